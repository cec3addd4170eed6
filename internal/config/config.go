package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all courier configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Storage   StorageConfig   `toml:"storage"`
	Router    RouterConfig    `toml:"router"`
	DutyCycle DutyCycleConfig `toml:"duty_cycle"`
	Agent     AgentConfig     `toml:"agent"`
	Radio     RadioConfig     `toml:"radio"`
	Loop      LoopConfig      `toml:"loop"`
	Server    ServerConfig    `toml:"server"`
	Journal   JournalConfig   `toml:"journal"`
	Log       LogConfig       `toml:"log"`
}

type NodeConfig struct {
	EID    string `toml:"eid"`    // e.g. "ipn://3" or "dtn://relay-1/"
	Policy string `toml:"policy"` // "scheduled" or "immediate"
}

type StorageConfig struct {
	MaxStoredBundles  int `toml:"max_stored_bundles"`
	MaxKnownBundleIDs int `toml:"max_known_bundle_ids"`
	MaxKnownNodes     int `toml:"max_known_nodes"`
	MaxPayload        int `toml:"max_payload"` // bytes, after decompression
}

type RouterConfig struct {
	InterSendPacingDelay Duration `toml:"inter_send_pacing_delay"`
	MaxRetries           int      `toml:"max_retries"`     // 0 = unbounded
	ContactTimeout       Duration `toml:"contact_timeout"` // silence after which a neighbor counts as new again, 0 = never
}

type DutyCycleConfig struct {
	ReceiveDuration Duration `toml:"receive_duration"`
	SendDuration    Duration `toml:"send_duration"`
	Jitter          Duration `toml:"jitter"`
}

type AgentConfig struct {
	DefaultLifetime Duration `toml:"default_lifetime"`
	RetryInterval   Duration `toml:"retry_interval"`
	QueueSize       int      `toml:"queue_size"`
}

type RadioConfig struct {
	Bind      string   `toml:"bind"`  // UDP listen address, e.g. ":4556"
	Peers     []string `toml:"peers"` // broadcast targets
	QueueSize int      `toml:"queue_size"`
	MTU       int      `toml:"mtu"`
}

type LoopConfig struct {
	Interval       Duration `toml:"interval"`
	StatusInterval Duration `toml:"status_interval"`
	PurgeInterval  Duration `toml:"purge_interval"`
	MemoryLimit    uint64   `toml:"memory_limit"` // heap bytes, 0 = off
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Port    int    `toml:"port"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path      string `toml:"path"`       // resolved at runtime via journal.DefaultPath() when empty
	MaxEvents int    `toml:"max_events"` // oldest events pruned past this, 0 = keep all
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // "text" or "json"
	File       string `toml:"file"`   // empty = stderr
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Node: NodeConfig{
			EID:    "ipn://1",
			Policy: "scheduled",
		},
		Storage: StorageConfig{
			MaxStoredBundles:  50,
			MaxKnownBundleIDs: 100,
			MaxKnownNodes:     32,
			MaxPayload:        64 << 10,
		},
		Router: RouterConfig{
			InterSendPacingDelay: Duration(150 * time.Millisecond),
			ContactTimeout:       Duration(5 * time.Minute),
		},
		DutyCycle: DutyCycleConfig{
			ReceiveDuration: Duration(15 * time.Second),
			SendDuration:    Duration(8 * time.Second),
		},
		Agent: AgentConfig{
			DefaultLifetime: Duration(time.Hour),
			RetryInterval:   Duration(10 * time.Second),
			QueueSize:       16,
		},
		Radio: RadioConfig{
			Bind:      ":4556",
			Peers:     []string{"255.255.255.255:4556"},
			QueueSize: 32,
			MTU:       251,
		},
		Loop: LoopConfig{
			Interval:       Duration(10 * time.Millisecond),
			StatusInterval: Duration(time.Second),
			PurgeInterval:  Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    37778,
		},
		Journal: JournalConfig{
			Enabled:   true,
			MaxEvents: 10000,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: unknown keys: %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Node.EID != "", "node.eid is required")
	check(c.Node.Policy == "scheduled" || c.Node.Policy == "immediate",
		"node.policy must be scheduled or immediate, got %q", c.Node.Policy)

	check(c.Storage.MaxStoredBundles > 0, "storage.max_stored_bundles must be positive")
	check(c.Storage.MaxKnownBundleIDs >= c.Storage.MaxStoredBundles,
		"storage.max_known_bundle_ids (%d) must be >= max_stored_bundles (%d)",
		c.Storage.MaxKnownBundleIDs, c.Storage.MaxStoredBundles)
	check(c.Storage.MaxKnownNodes > 0, "storage.max_known_nodes must be positive")
	check(c.Storage.MaxPayload > 0, "storage.max_payload must be positive")

	check(c.Router.InterSendPacingDelay >= 0, "router.inter_send_pacing_delay must not be negative")
	check(c.Router.MaxRetries >= 0, "router.max_retries must not be negative")
	check(c.Router.ContactTimeout >= 0, "router.contact_timeout must not be negative")

	check(c.DutyCycle.ReceiveDuration > 0, "duty_cycle.receive_duration must be positive")
	check(c.DutyCycle.SendDuration > 0, "duty_cycle.send_duration must be positive")
	check(c.DutyCycle.Jitter >= 0, "duty_cycle.jitter must not be negative")

	check(c.Agent.DefaultLifetime > 0, "agent.default_lifetime must be positive")
	check(c.Agent.QueueSize > 0, "agent.queue_size must be positive")

	check(c.Radio.QueueSize > 0, "radio.queue_size must be positive")
	check(c.Radio.MTU > 0, "radio.mtu must be positive")

	check(c.Loop.Interval > 0, "loop.interval must be positive")
	check(c.Loop.StatusInterval > 0, "loop.status_interval must be positive")
	check(c.Loop.PurgeInterval > 0, "loop.purge_interval must be positive")

	check(c.Journal.MaxEvents >= 0, "journal.max_events must not be negative")

	if c.Server.Enabled {
		check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port out of range: %d", c.Server.Port)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Encode writes c as TOML.
func (c Config) Encode() (string, error) {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return sb.String(), nil
}
