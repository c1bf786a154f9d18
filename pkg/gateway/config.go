package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds gateway runtime configuration
type Config struct {
	ListenAddr        string
	HeartbeatInterval time.Duration
	IdentifyDeadline  time.Duration
	ResumeWindow      time.Duration
	BufferCapacity    int
	BufferTTL         time.Duration
	QueueSize         int
	DrainGrace        time.Duration
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8765",
		HeartbeatInterval: 41250 * time.Millisecond,
		IdentifyDeadline:  10 * time.Second,
		ResumeWindow:      60 * time.Second,
		BufferCapacity:    128,
		BufferTTL:         5 * time.Minute,
		QueueSize:         256,
		DrainGrace:        5 * time.Second,
	}
}

// TOMLConfig represents the structure of the gateway config file
type TOMLConfig struct {
	Gateway   GatewaySection   `toml:"gateway"`
	Protocol  ProtocolSection  `toml:"protocol"`
	Stream    StreamSection    `toml:"stream"`
	Directory DirectorySection `toml:"directory"`
	Auth      AuthSection      `toml:"auth"`
}

type GatewaySection struct {
	ListenAddr        string `toml:"listen_addr"`
	DrainGraceSeconds int    `toml:"drain_grace_seconds"`
}

type ProtocolSection struct {
	HeartbeatIntervalMs     int `toml:"heartbeat_interval_ms"`
	IdentifyDeadlineSeconds int `toml:"identify_deadline_seconds"`
	ResumeWindowSeconds     int `toml:"resume_window_seconds"`
	ResumeBufferSize        int `toml:"resume_buffer_size"`
	ResumeBufferTTLSeconds  int `toml:"resume_buffer_ttl_seconds"`
	OutboundQueueSize       int `toml:"outbound_queue_size"`
}

type StreamSection struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Name    string `toml:"name"`
}

type DirectorySection struct {
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
	KeyPrefix string `toml:"key_prefix"`
}

type AuthSection struct {
	// JWTSecret may be left empty and provided via SURGE_JWT_SECRET instead
	JWTSecret string `toml:"jwt_secret"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Gateway: GatewaySection{
			ListenAddr:        ":8765",
			DrainGraceSeconds: 5,
		},
		Protocol: ProtocolSection{
			HeartbeatIntervalMs:     41250,
			IdentifyDeadlineSeconds: 10,
			ResumeWindowSeconds:     60,
			ResumeBufferSize:        128,
			ResumeBufferTTLSeconds:  300,
			OutboundQueueSize:       256,
		},
		Stream: StreamSection{
			URL:     "nats://127.0.0.1:4222",
			Subject: "chat.events",
			Name:    "surge-gateway",
		},
		Directory: DirectorySection{
			RedisAddr: "127.0.0.1:6379",
			RedisDB:   0,
			KeyPrefix: "directory:user:",
		},
		Auth: AuthSection{
			JWTSecret: "",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Surge Gateway Configuration
# This file was auto-generated with default values
# Edit as needed and restart the gateway for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToGatewayConfig converts TOMLConfig to Config, falling back to defaults
// for unset fields
func (c *TOMLConfig) ToGatewayConfig() Config {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Gateway.ListenAddr) != "" {
		cfg.ListenAddr = c.Gateway.ListenAddr
	}
	if c.Gateway.DrainGraceSeconds != 0 {
		cfg.DrainGrace = time.Duration(c.Gateway.DrainGraceSeconds) * time.Second
	}
	if c.Protocol.HeartbeatIntervalMs != 0 {
		cfg.HeartbeatInterval = time.Duration(c.Protocol.HeartbeatIntervalMs) * time.Millisecond
	}
	if c.Protocol.IdentifyDeadlineSeconds != 0 {
		cfg.IdentifyDeadline = time.Duration(c.Protocol.IdentifyDeadlineSeconds) * time.Second
	}
	if c.Protocol.ResumeWindowSeconds != 0 {
		cfg.ResumeWindow = time.Duration(c.Protocol.ResumeWindowSeconds) * time.Second
	}
	if c.Protocol.ResumeBufferSize != 0 {
		cfg.BufferCapacity = c.Protocol.ResumeBufferSize
	}
	if c.Protocol.ResumeBufferTTLSeconds != 0 {
		cfg.BufferTTL = time.Duration(c.Protocol.ResumeBufferTTLSeconds) * time.Second
	}
	if c.Protocol.OutboundQueueSize != 0 {
		cfg.QueueSize = c.Protocol.OutboundQueueSize
	}

	return cfg
}

// JWTSecret returns the signing secret, preferring the environment over
// the config file so the secret can stay out of version control.
func (c *TOMLConfig) JWTSecret() string {
	if env := os.Getenv("SURGE_JWT_SECRET"); env != "" {
		return env
	}
	return c.Auth.JWTSecret
}
