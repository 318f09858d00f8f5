package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Insecure fallbacks. Every one of these must be overridden in a real
// deployment; InsecureDefaults reports the ones still in effect.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
	DefaultSessionSecret = "insecure-dev-session-secret-change-me"
)

// Settings is the effective sleepd configuration, merged from defaults, the
// optional sleepd.yaml file, and the environment.
type Settings struct {
	DataDir string         `mapstructure:"data_dir" yaml:"data_dir"`
	Server  ServerSettings `mapstructure:"server" yaml:"server"`
	Admin   AdminSettings  `mapstructure:"admin" yaml:"admin"`
	Auth    AuthSettings   `mapstructure:"auth" yaml:"auth"`
	Sleep   SleepSettings  `mapstructure:"sleep" yaml:"sleep"`
	Log     LogSettings    `mapstructure:"log" yaml:"log"`
}

// ServerSettings controls the HTTP listener.
type ServerSettings struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins      []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	TriggerRateLimit int           `mapstructure:"trigger_rate_limit" yaml:"trigger_rate_limit"` // per minute per IP, 0 disables
}

// AdminSettings is the single operator identity.
type AdminSettings struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// AuthSettings controls admin session tokens.
type AuthSettings struct {
	SessionSecret string        `mapstructure:"session_secret" yaml:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// SleepSettings tunes the sleep invocation engine.
type SleepSettings struct {
	SimulationLog   string        `mapstructure:"simulation_log" yaml:"simulation_log"`
	GraceDelay      time.Duration `mapstructure:"grace_delay" yaml:"grace_delay"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	ForceSimulation bool          `mapstructure:"force_simulation" yaml:"force_simulation"`
}

// LogSettings controls the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
	File   string `mapstructure:"file" yaml:"file"`
}

// DefaultSettings returns the built-in defaults. SimulationLog is left empty
// and resolved against DataDir by LoadSettings.
func DefaultSettings() Settings {
	return Settings{
		DataDir: defaultDataDir(),
		Server: ServerSettings{
			Host:             "0.0.0.0",
			Port:             5000,
			ShutdownTimeout:  30 * time.Second,
			CORSOrigins:      []string{"*"},
			TriggerRateLimit: 10,
		},
		Admin: AdminSettings{
			Username: DefaultAdminUsername,
			Password: DefaultAdminPassword,
		},
		Auth: AuthSettings{
			SessionSecret: DefaultSessionSecret,
			SessionTTL:    24 * time.Hour,
		},
		Sleep: SleepSettings{
			GraceDelay:     time.Second,
			CommandTimeout: 10 * time.Second,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers defaults and environment bindings on v. Besides the
// SLEEPD_ prefixed names, the unprefixed ADMIN_USERNAME, ADMIN_PASSWORD and
// SESSION_SECRET variables are honoured.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.trigger_rate_limit", d.Server.TriggerRateLimit)
	v.SetDefault("admin.username", d.Admin.Username)
	v.SetDefault("admin.password", d.Admin.Password)
	v.SetDefault("auth.session_secret", d.Auth.SessionSecret)
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("sleep.simulation_log", "")
	v.SetDefault("sleep.grace_delay", d.Sleep.GraceDelay)
	v.SetDefault("sleep.command_timeout", d.Sleep.CommandTimeout)
	v.SetDefault("sleep.force_simulation", false)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")

	v.SetEnvPrefix("SLEEPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("admin.username", "SLEEPD_ADMIN_USERNAME", "ADMIN_USERNAME")
	v.BindEnv("admin.password", "SLEEPD_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	v.BindEnv("auth.session_secret", "SLEEPD_AUTH_SESSION_SECRET", "SESSION_SECRET")
}

// LoadSettings decodes v into Settings and fills derived paths.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if s.DataDir == "" {
		s.DataDir = defaultDataDir()
	}
	if s.Admin.Username == "" {
		s.Admin.Username = DefaultAdminUsername
	}
	if s.Admin.Password == "" {
		s.Admin.Password = DefaultAdminPassword
	}
	if s.Auth.SessionSecret == "" {
		s.Auth.SessionSecret = DefaultSessionSecret
	}
	if s.Sleep.SimulationLog == "" {
		s.Sleep.SimulationLog = filepath.Join(s.DataDir, "sleep_events.log")
	}
	if s.Auth.SessionTTL <= 0 {
		s.Auth.SessionTTL = 24 * time.Hour
	}
	if s.Sleep.CommandTimeout <= 0 {
		s.Sleep.CommandTimeout = 10 * time.Second
	}
	if s.Sleep.GraceDelay < 0 {
		return Settings{}, fmt.Errorf("sleep.grace_delay must not be negative, got %s", s.Sleep.GraceDelay)
	}
	return s, nil
}

// InsecureDefaults returns the setting keys that still hold a hazard-labeled
// development default.
func (s Settings) InsecureDefaults() []string {
	var keys []string
	if s.Admin.Username == DefaultAdminUsername {
		keys = append(keys, "admin.username")
	}
	if s.Admin.Password == DefaultAdminPassword {
		keys = append(keys, "admin.password")
	}
	if s.Auth.SessionSecret == DefaultSessionSecret {
		keys = append(keys, "auth.session_secret")
	}
	return keys
}

// DefaultYAML renders the defaults as a sleepd.yaml document with the
// credential fields blanked so they are not committed by accident.
func DefaultYAML() ([]byte, error) {
	d := DefaultSettings()
	d.DataDir = ""
	d.Admin.Password = ""
	d.Auth.SessionSecret = ""
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal default settings: %w", err)
	}
	header := "# sleepd configuration\n" +
		"# Credentials are best set via SLEEPD_ADMIN_PASSWORD and SLEEPD_AUTH_SESSION_SECRET.\n" +
		"# Empty values fall back to built-in defaults.\n\n"
	return append([]byte(header), out...), nil
}

func defaultDataDir() string {
	if envDir := os.Getenv("SLEEPD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sleepd"
	}
	return filepath.Join(home, ".sleepd")
}
