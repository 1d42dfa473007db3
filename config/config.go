// Package config loads the node configuration from a YAML file, applies
// defaults and validates the result. Components receive the values they
// need at construction; nothing here is a process-wide singleton.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dicomerrors "github.com/dicomrt/follow/errors"
)

// DefaultLocalAETitle is used when the configuration does not name one.
const DefaultLocalAETitle = "FOLLOW"

// Peer is a remote DICOM node objects can be forwarded to.
type Peer struct {
	Name    string `yaml:"name"`
	AET     string `yaml:"aet"`
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

// Address returns the host:port dial string for the peer.
func (p Peer) Address() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Rule is a declarative forwarding rule. An empty SourceAE matches any
// calling AE; an empty PlanLabelSubstring matches any plan label.
type Rule struct {
	Name               string   `yaml:"name"`
	Enabled            bool     `yaml:"enabled"`
	SourceAE           string   `yaml:"source_ae"`
	PlanLabelSubstring string   `yaml:"plan_label_substring"`
	TargetNodeNames    []string `yaml:"target_node_names"`
}

// Config is the full node configuration.
type Config struct {
	LocalAETitle string `yaml:"local_ae_title"`
	ListenIP     string `yaml:"listen_ip"`
	ReceivePort  int    `yaml:"receive_port"`

	ReceiveRoot   string `yaml:"receive_root"`
	OutgoingSpool string `yaml:"outgoing_spool"`
	ImportFolder  string `yaml:"import_folder"`

	TrustedAETitles []string          `yaml:"trusted_ae_titles"`
	AEToSubdirMap   map[string]string `yaml:"ae_to_subdir_map"`

	Emf2sfPath string `yaml:"emf2sf_path"`

	WorkerPoolSize    int `yaml:"worker_pool_size"`
	BufferQuiesceS    int `yaml:"buffer_quiesce_s"`
	FolderInactivityS int `yaml:"folder_inactivity_s"`
	FolderRetryS      int `yaml:"folder_retry_s"`
	RescanIntervalS   int `yaml:"rescan_interval_s"`
	EmptyDirAgeS      int `yaml:"empty_dir_age_s"`
	HeartbeatS        int `yaml:"heartbeat_s"`

	DeleteAfterSend              bool `yaml:"delete_after_send"`
	ClearImportFolderAfterImport bool `yaml:"clear_import_folder_after_import"`
	AutoStartReceiver            bool `yaml:"auto_start_receiver"`

	// ForwardingEnabled is the global switch for the rule engine; when
	// false every rule evaluation returns no targets.
	ForwardingEnabled bool `yaml:"forwarding_enabled"`

	Peers []Peer `yaml:"peers"`
	Rules []Rule `yaml:"rules"`
}

// Load reads, parses, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		AutoStartReceiver: true,
		ForwardingEnabled: true,
	}
}

func (c *Config) applyDefaults() {
	if c.LocalAETitle == "" {
		c.LocalAETitle = DefaultLocalAETitle
	}
	if c.ListenIP == "" {
		c.ListenIP = "0.0.0.0"
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 4
	}
	if c.BufferQuiesceS <= 0 {
		c.BufferQuiesceS = 2
	}
	if c.FolderInactivityS <= 0 {
		c.FolderInactivityS = 13
	}
	if c.FolderRetryS <= 0 {
		c.FolderRetryS = 14
	}
	if c.RescanIntervalS <= 0 {
		c.RescanIntervalS = 300
	}
	if c.EmptyDirAgeS <= 0 {
		c.EmptyDirAgeS = 180
	}
	if c.HeartbeatS <= 0 {
		c.HeartbeatS = 120
	}
}

// Validate reports fatal configuration errors. The caller is expected to
// exit non-zero when it returns one.
func (c *Config) Validate() error {
	if len(c.LocalAETitle) > 16 {
		return fmt.Errorf("local_ae_title %q exceeds 16 characters", c.LocalAETitle)
	}
	if c.ReceivePort < 1 || c.ReceivePort > 65535 {
		return fmt.Errorf("receive_port %d out of range", c.ReceivePort)
	}
	if c.ReceiveRoot == "" {
		return fmt.Errorf("%w: receive_root", dicomerrors.ErrConfigMissing)
	}
	if c.OutgoingSpool == "" {
		return fmt.Errorf("%w: outgoing_spool", dicomerrors.ErrConfigMissing)
	}

	names := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("peer with AE title %q has no name", p.AET)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate peer name %q", p.Name)
		}
		names[p.Name] = true
		if p.AET == "" || len(p.AET) > 16 {
			return fmt.Errorf("peer %q has invalid AE title %q", p.Name, p.AET)
		}
		if p.IP == "" {
			return fmt.Errorf("peer %q has no IP", p.Name)
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("peer %q has invalid port %d", p.Name, p.Port)
		}
	}

	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule without a name")
		}
		for _, target := range r.TargetNodeNames {
			if !names[target] {
				return fmt.Errorf("rule %q references unknown peer %q", r.Name, target)
			}
		}
	}

	return nil
}

// PeerByName returns the named peer, if configured.
func (c *Config) PeerByName(name string) (Peer, bool) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return Peer{}, false
}

// ListenAddress returns the host:port string the SCP binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ReceivePort)
}

func (c *Config) BufferQuiesce() time.Duration    { return time.Duration(c.BufferQuiesceS) * time.Second }
func (c *Config) FolderInactivity() time.Duration { return time.Duration(c.FolderInactivityS) * time.Second }
func (c *Config) FolderRetry() time.Duration      { return time.Duration(c.FolderRetryS) * time.Second }
func (c *Config) RescanInterval() time.Duration   { return time.Duration(c.RescanIntervalS) * time.Second }
func (c *Config) EmptyDirAge() time.Duration      { return time.Duration(c.EmptyDirAgeS) * time.Second }
func (c *Config) Heartbeat() time.Duration        { return time.Duration(c.HeartbeatS) * time.Second }
