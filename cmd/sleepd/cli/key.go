package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke and verify the API keys that authorize sleep requests.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyVerifyCmd())

	return cmd
}

// openAuthService opens the key store and wires an auth service with a quiet
// logger. The caller closes the returned store.
func openAuthService() (*service.AuthService, *config.Store, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	store, err := openConfigStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open key store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newAuthService(store, settings, logger), store, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create",
		Short:   "Create a new API key",
		Long:    "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  sleepd key create`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate()
		},
	}
}

func runKeyCreate() error {
	authSvc, store, err := openAuthService()
	if err != nil {
		return err
	}
	defer store.Close()

	rawKey, err := authSvc.IssueKey(context.Background())
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", rawKey)
	fmt.Printf("  Prefix: %s\n", rawKey[:service.KeyPrefixLen])
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	fmt.Printf("  Use it as: curl -X POST -H \"%s: <key>\" http://<host>:<port>/api/sleep\n", service.APIKeyHeader)
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput bool
		all        bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput, all)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include revoked keys")

	return cmd
}

func runKeyList(jsonOutput, all bool) error {
	authSvc, store, err := openAuthService()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := authSvc.ListKeyRecords(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Prefix   string `json:"prefix"`
		Created  string `json:"created_at"`
		LastUsed string `json:"last_used_at,omitempty"`
		Active   bool   `json:"active"`
	}

	rows := make([]keyRow, 0, len(keys))
	for _, k := range keys {
		if !all && !k.IsActive() {
			continue
		}
		row := keyRow{
			Prefix:  k.KeyPrefix,
			Created: k.CreatedAt.Local().Format(time.DateTime),
			Active:  k.IsActive(),
		}
		if k.LastUsedAt != nil {
			row.LastUsed = k.LastUsedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys issued. Use 'sleepd key create' to create one.")
		return nil
	}

	fmt.Printf("%-10s %-20s %-20s %-8s\n", "PREFIX", "CREATED", "LAST USED", "ACTIVE")
	fmt.Printf("%-10s %-20s %-20s %-8s\n", "------", "-------", "---------", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		lastUsed := k.LastUsed
		if lastUsed == "" {
			lastUsed = "never"
		}
		fmt.Printf("%-10s %-20s %-20s %-8s\n", k.Prefix, k.Created, lastUsed, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Revoke an API key so it no longer authorizes sleep requests. The prefix must match exactly one active key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
}

func runKeyRevoke(prefix string) error {
	authSvc, store, err := openAuthService()
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := authSvc.RevokeKey(context.Background(), prefix)
	switch {
	case errors.Is(err, config.ErrNotFound):
		return fmt.Errorf("no active API key found with prefix %q", prefix)
	case errors.Is(err, config.ErrAmbiguousPrefix):
		return fmt.Errorf("prefix %q matches more than one active key; use more characters", prefix)
	case err != nil:
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", key.KeyPrefix)
	return nil
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [key]",
		Short: "Check whether an API key is accepted",
		Long:  "Check a raw API key against the stored hashes. When no key is given it is read from the terminal without echo.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rawKey string
			if len(args) == 1 {
				rawKey = args[0]
			} else {
				fmt.Print("API key: ")
				keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("failed to read key: %w", err)
				}
				rawKey = strings.TrimSpace(string(keyBytes))
			}
			return runKeyVerify(rawKey)
		},
	}
}

func runKeyVerify(rawKey string) error {
	authSvc, store, err := openAuthService()
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := authSvc.ValidateAPIKey(context.Background(), rawKey)
	if err != nil {
		return errors.New("API key is not valid")
	}

	fmt.Printf("API key is valid (prefix %s)\n", p.KeyPrefix)
	return nil
}
