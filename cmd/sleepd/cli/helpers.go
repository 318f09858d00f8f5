package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/service"
	"github.com/sleepd/sleepd/internal/sleep"
)

// loadSettings decodes the effective configuration from the global viper
// instance.
func loadSettings() (config.Settings, error) {
	return config.LoadSettings(viper.GetViper())
}

// resolveDataDir returns the data directory from --data-dir, SLEEPD_DATA_DIR,
// the config file, or ~/.sleepd as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	s, err := loadSettings()
	if err != nil {
		return config.DefaultSettings().DataDir
	}
	return s.DataDir
}

// openConfigStore opens the SQLite key store in the data directory.
func openConfigStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// newAuthService wires the auth service from settings.
func newAuthService(store *config.Store, s config.Settings, logger *slog.Logger) *service.AuthService {
	return service.NewAuthService(store,
		service.Admin{Username: s.Admin.Username, Password: s.Admin.Password},
		s.Auth.SessionSecret,
		service.WithLogger(logger),
	)
}

// newEngine wires the sleep engine from settings.
func newEngine(s config.Settings, logger *slog.Logger) *sleep.Engine {
	return sleep.New(sleep.Config{
		SimulationLog:   s.Sleep.SimulationLog,
		GraceDelay:      s.Sleep.GraceDelay,
		CommandTimeout:  s.Sleep.CommandTimeout,
		ForceSimulation: s.Sleep.ForceSimulation,
	}, logger)
}

// newLogger builds the process logger. Output always goes to stderr and is
// additionally appended to log.file when set. The returned closer releases
// the file and is never nil.
func newLogger(s config.LogSettings, dev bool) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if s.Level != "" {
		if err := level.UnmarshalText([]byte(s.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log.level %q: %w", s.Level, err)
		}
	}
	if dev {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(s.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(out, opts)), closer, nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("invalid log.format %q (want text or json)", s.Format)
	}
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "sleepd.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// logFilePath is where a detached server's stdout and stderr go.
func logFilePath() string {
	return filepath.Join(resolveDataDir(), "sleepd.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// withoutFlag returns args with every occurrence of the given boolean flag
// spellings removed, bare or in flag=value form.
func withoutFlag(args []string, names ...string) []string {
	out := make([]string, 0, len(args))
next:
	for _, a := range args {
		for _, name := range names {
			if a == name || strings.HasPrefix(a, name+"=") {
				continue next
			}
		}
		out = append(out, a)
	}
	return out
}

// dialHost maps a wildcard listen address to loopback for local requests.
func dialHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}
