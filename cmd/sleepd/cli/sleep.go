package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSleepCmd() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Suspend this machine now",
		Long: `Run the sleep engine once, locally, without going through the HTTP server.
The same fallback chain is used: the native suspend call, then rundll32, then
PowerShell. With --simulate (or on a host without native suspend support) a
line is appended to the simulation log instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if simulate {
				viper.Set("sleep.force_simulation", true)
			}
			return runSleep()
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "Record a simulated sleep instead of suspending")

	return cmd
}

func runSleep() error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(settings.Log, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome := newEngine(settings, logger).Sleep(ctx)
	if !outcome.Success {
		return fmt.Errorf("sleep failed: %s", outcome.Message)
	}

	fmt.Println(outcome.Message)
	if outcome.Simulated {
		fmt.Printf("  Recorded in: %s\n", settings.Sleep.SimulationLog)
	}
	return nil
}
