package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/history"
	"github.com/sleepd/sleepd/internal/server"
)

const banner = `
     _                     _
 ___| | ___  ___ _ __   __| |
/ __| |/ _ \/ _ \ '_ \ / _' |
\__ \ |  __/  __/ |_) | (_| |
|___/_|\___|\___| .__/ \__,_|
                |_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sleepd HTTP server",
		Long:  "Start the HTTP server that accepts authenticated sleep requests and the operator endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return runDetached()
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 5000, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// runDetached re-executes the current binary without --detach in a new
// session and returns once the child has started. The child writes its own
// PID file.
func runDetached() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := withoutFlag(os.Args[1:], "--detach", "-d")

	if err := os.MkdirAll(resolveDataDir(), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	fmt.Printf("sleepd started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop it with 'sleepd stop'.")
	return child.Process.Release()
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(settings.Log, dev)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// 1. Key store (SQLite)
	store, err := config.NewStore(settings.DataDir)
	if err != nil {
		return fmt.Errorf("init key store: %w", err)
	}
	defer store.Close()
	logger.Info("key store initialized", "path", settings.DataDir)

	// 2. Credential checks and insecure defaults
	for _, key := range settings.InsecureDefaults() {
		logger.Warn("insecure default in use, override it before exposing this service", "setting", key)
	}
	authSvc := newAuthService(store, settings, logger)
	if len(authSvc.ListKeys(context.Background())) == 0 {
		logger.Warn("no API keys issued yet - run: sleepd key create")
	}

	// 3. Sleep engine
	engine := newEngine(settings, logger)
	if simulated, reason := engine.Simulated(); simulated {
		logger.Warn("sleep requests will be simulated", "reason", reason, "log", settings.Sleep.SimulationLog)
	}

	// 4. PID file for status/stop
	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	// 5. Build and start HTTP server
	srvCfg := server.Config{
		Host:             settings.Server.Host,
		Port:             settings.Server.Port,
		ShutdownTimeout:  settings.Server.ShutdownTimeout,
		CORSOrigins:      settings.Server.CORSOrigins,
		TriggerRateLimit: settings.Server.TriggerRateLimit,
		SessionTTL:       settings.Auth.SessionTTL,
		MaxBodySize:      server.DefaultConfig().MaxBodySize,
		Version:          versionString(),
	}

	srv := server.New(srvCfg, store, authSvc, history.NewLedger(history.DefaultCapacity), engine, logger)

	fmt.Printf("→ sleepd %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Trigger:    POST http://%s:%d/api/sleep\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Status:     http://%s:%d/status\n", srvCfg.Host, srvCfg.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
