package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sleepd/sleepd/internal/config"
)

var (
	cfgFile    string
	dataDir    string
	appVersion string // set in Execute, reported by /status
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sleepd",
		Short: "Put this machine to sleep over HTTP",
		Long: `sleepd: a small authenticated HTTP service that suspends the host it runs on.

Clients call POST /api/sleep with an API key (X-API-Key header) or the admin
credentials. Keys are issued and revoked by the operator from this CLI or the
admin endpoints. On hosts without native suspend support the request is
simulated and written to a log instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sleepd.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for keys, logs and the PID file (default: ~/.sleepd)")
	viper.BindPFlag("data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newSleepCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sleepd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.sleepd")
	}

	config.SetDefaults(viper.GetViper())
	viper.ReadInConfig() // Ignore error - config file is optional
}
