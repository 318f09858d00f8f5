package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sleepd/sleepd/internal/config"
)

// suspendMode reports how a trigger would be served on this host with the
// given settings: "native" or "simulated", plus the simulation reason.
func suspendMode(s config.Settings) (string, string) {
	engine := newEngine(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if simulated, reason := engine.Simulated(); simulated {
		return "simulated", reason
	}
	return "native", ""
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				settings = config.DefaultSettings()
			}
			suspend, reason := suspendMode(settings)
			info := map[string]string{
				"version":    version,
				"commit":     commit,
				"built":      date,
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
				"suspend":    suspend,
			}
			if reason != "" {
				info["suspend_reason"] = reason
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sleepd %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", date)
			fmt.Fprintf(cmd.OutOrStdout(), "  go:      %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  suspend: %s (%s)\n", suspend, reason)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  suspend: %s\n", suspend)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}
