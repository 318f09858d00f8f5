package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func loadTestSettings(t *testing.T) Settings {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	s, err := LoadSettings(v)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	return s
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("SLEEPD_DATA_DIR", "/tmp/sleepd-test")

	s := loadTestSettings(t)

	if s.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", s.Server.Port)
	}
	if s.Sleep.GraceDelay != time.Second {
		t.Errorf("Sleep.GraceDelay = %v, want 1s", s.Sleep.GraceDelay)
	}
	if s.Sleep.CommandTimeout != 10*time.Second {
		t.Errorf("Sleep.CommandTimeout = %v, want 10s", s.Sleep.CommandTimeout)
	}
	want := filepath.Join("/tmp/sleepd-test", "sleep_events.log")
	if s.Sleep.SimulationLog != want {
		t.Errorf("Sleep.SimulationLog = %q, want %q", s.Sleep.SimulationLog, want)
	}
	if got := len(s.InsecureDefaults()); got != 3 {
		t.Errorf("InsecureDefaults() has %d entries, want 3: %v", got, s.InsecureDefaults())
	}
}

func TestLoadSettingsLegacyEnvNames(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "operator")
	t.Setenv("ADMIN_PASSWORD", "correct-horse")
	t.Setenv("SESSION_SECRET", "s3cret")

	s := loadTestSettings(t)

	if s.Admin.Username != "operator" || s.Admin.Password != "correct-horse" {
		t.Errorf("admin = %+v", s.Admin)
	}
	if s.Auth.SessionSecret != "s3cret" {
		t.Errorf("SessionSecret = %q", s.Auth.SessionSecret)
	}
	if got := s.InsecureDefaults(); len(got) != 0 {
		t.Errorf("InsecureDefaults() = %v, want none", got)
	}
}

func TestLoadSettingsPrefixedEnv(t *testing.T) {
	t.Setenv("SLEEPD_SLEEP_GRACE_DELAY", "250ms")
	t.Setenv("SLEEPD_SERVER_PORT", "8123")

	s := loadTestSettings(t)

	if s.Sleep.GraceDelay != 250*time.Millisecond {
		t.Errorf("GraceDelay = %v, want 250ms", s.Sleep.GraceDelay)
	}
	if s.Server.Port != 8123 {
		t.Errorf("Port = %d, want 8123", s.Server.Port)
	}
}

func TestLoadSettingsRejectsNegativeGrace(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("sleep.grace_delay", "-1s")

	if _, err := LoadSettings(v); err == nil {
		t.Fatal("expected error for negative grace delay")
	}
}

func TestDefaultYAMLRoundTrip(t *testing.T) {
	out, err := DefaultYAML()
	if err != nil {
		t.Fatalf("DefaultYAML: %v", err)
	}
	if strings.Contains(string(out), DefaultSessionSecret) {
		t.Error("default yaml must not contain the session secret")
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(out))); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	s, err := LoadSettings(v)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	// Blank credentials in the file fall back to the defaults.
	if s.Admin.Password != DefaultAdminPassword {
		t.Errorf("Admin.Password = %q, want fallback", s.Admin.Password)
	}
	if s.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", s.Server.ShutdownTimeout)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(out, &raw); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if _, ok := raw["sleep"]; !ok {
		t.Error("expected a sleep section in default yaml")
	}
}
