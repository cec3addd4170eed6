package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
	if cfg.Storage.MaxStoredBundles != 50 || cfg.Storage.MaxKnownBundleIDs != 100 {
		t.Errorf("storage = %+v, want 50/100", cfg.Storage)
	}
	if cfg.DutyCycle.ReceiveDuration.D() != 15*time.Second || cfg.DutyCycle.SendDuration.D() != 8*time.Second {
		t.Errorf("duty cycle = %+v, want 15s/8s", cfg.DutyCycle)
	}
	if cfg.Router.InterSendPacingDelay.D() != 150*time.Millisecond {
		t.Errorf("pacing = %v, want 150ms", cfg.Router.InterSendPacingDelay)
	}
	if cfg.Storage.MaxPayload != 64<<10 || cfg.Journal.MaxEvents != 10000 {
		t.Errorf("max_payload = %d, max_events = %d", cfg.Storage.MaxPayload, cfg.Journal.MaxEvents)
	}
	if cfg.Router.ContactTimeout.D() != 5*time.Minute {
		t.Errorf("contact_timeout = %v, want 5m", cfg.Router.ContactTimeout)
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:37778" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[node]
eid = "ipn://3"
policy = "immediate"

[storage]
max_stored_bundles = 10
max_known_bundle_ids = 20

[duty_cycle]
receive_duration = "20s"
send_duration = "5s"
jitter = "500ms"

[radio]
peers = ["10.0.0.255:4556", "10.0.1.255:4556"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.EID != "ipn://3" || cfg.Node.Policy != "immediate" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Storage.MaxStoredBundles != 10 || cfg.Storage.MaxKnownBundleIDs != 20 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.MaxKnownNodes != 32 {
		t.Errorf("max_known_nodes = %d, want default 32", cfg.Storage.MaxKnownNodes)
	}
	if cfg.DutyCycle.Jitter.D() != 500*time.Millisecond {
		t.Errorf("jitter = %v, want 500ms", cfg.DutyCycle.Jitter)
	}
	if len(cfg.Radio.Peers) != 2 {
		t.Errorf("peers = %v", cfg.Radio.Peers)
	}
	if cfg.Router.InterSendPacingDelay.D() != 150*time.Millisecond {
		t.Errorf("pacing = %v, want default", cfg.Router.InterSendPacingDelay)
	}
}

func TestLoadRejectsSmallSeenSet(t *testing.T) {
	path := writeConfig(t, `
[storage]
max_stored_bundles = 50
max_known_bundle_ids = 40
`)
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "max_known_bundle_ids") {
		t.Errorf("error %q does not name the field", err)
	}
}

func TestValidateBounds(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"max_payload":     func(c *Config) { c.Storage.MaxPayload = 0 },
		"contact_timeout": func(c *Config) { c.Router.ContactTimeout = Duration(-time.Second) },
		"max_events":      func(c *Config) { c.Journal.MaxEvents = -1 },
	} {
		cfg := Default()
		mutate(&cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), name) {
			t.Errorf("%s: Validate = %v", name, err)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[router]
pacing = "1s"
`)
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want ErrInvalid", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
[duty_cycle]
send_duration = "eight seconds"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidatePolicy(t *testing.T) {
	cfg := Default()
	cfg.Node.Policy = "flood"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate = %v, want ErrInvalid", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Node.EID = "dtn://relay-1/"
	out, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(out, `receive_duration = "15s"`) {
		t.Errorf("encoded config missing duration string:\n%s", out)
	}

	cfg2, err := Load(writeConfig(t, out))
	if err != nil {
		t.Fatalf("Load encoded: %v", err)
	}
	if cfg2.Node.EID != "dtn://relay-1/" || cfg2.DutyCycle.SendDuration != cfg.DutyCycle.SendDuration {
		t.Errorf("round trip = %+v", cfg2.Node)
	}
}
