package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the process configuration, loaded from a TOML file. Zero-valued
// fields take the defaults below.
type Config struct {
	// Hostname is the advertised server name.
	Hostname string `toml:"hostname"`

	// TCPPort carries the command protocol; UDPPort the notification
	// channel; AdminPort the administrative HTTP API.
	TCPPort   int `toml:"tcp_port"`
	UDPPort   int `toml:"udp_port"`
	AdminPort int `toml:"admin_port"`

	// DataDir holds the persisted user and message snapshots.
	DataDir string `toml:"data_dir"`

	// MaxMessageBytes caps a SEND body.
	MaxMessageBytes int `toml:"max_message_bytes"`

	// ReadTimeoutSeconds disconnects a client idle beyond this bound.
	ReadTimeoutSeconds int `toml:"read_timeout_seconds"`

	// RetentionDays is the archived-message expiry window.
	RetentionDays int `toml:"retention_days"`
}

func DefaultConfig() Config {
	return Config{
		Hostname:           "maillite",
		TCPPort:            1234,
		UDPPort:            1235,
		AdminPort:          8025,
		DataDir:            "data",
		MaxMessageBytes:    64 * 1024,
		ReadTimeoutSeconds: 60,
		RetentionDays:      30,
	}
}

func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return config, fmt.Errorf("config file: %w", err)
	}
	return config, nil
}

func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}
