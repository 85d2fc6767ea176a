package farcall

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/machinefabric/farcall-go/transport"
)

// Config gathers provider, consumer and transport settings loaded from a
// TOML file.
type Config struct {
	Provide ProvideOptions
	Consume ConsumeOptions
	Limits  transport.Limits
	// Compression names the per-frame algorithm both ends wrap their
	// transport with (see transport.Compress).
	Compression string
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Provide: ProvideOptions{IdleTimeout: DefaultIdleTimeout},
		Consume: ConsumeOptions{KeepaliveInterval: DefaultKeepaliveInterval},
		Limits:  transport.DefaultLimits(),
	}
}

type fileConfig struct {
	Provider struct {
		Name        string `toml:"name"`
		AllowWrite  bool   `toml:"allow_write"`
		IdleTimeout any    `toml:"idle_timeout"`
	} `toml:"provider"`
	Consumer struct {
		Name      string `toml:"name"`
		Timeout   any    `toml:"timeout"`
		Keepalive any    `toml:"keepalive"`
	} `toml:"consumer"`
	Transport struct {
		MaxFrame    int    `toml:"max_frame"`
		Compression string `toml:"compression"`
	} `toml:"transport"`
}

// LoadConfig reads a TOML file over DefaultConfig. Durations are either
// strings accepted by time.ParseDuration or numbers of seconds; a negative
// value disables the timer it configures.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load farcall config: %w", err)
	}

	if meta.IsDefined("provider", "name") {
		cfg.Provide.Name = strings.TrimSpace(raw.Provider.Name)
	}
	if meta.IsDefined("provider", "allow_write") {
		cfg.Provide.AllowWrite = raw.Provider.AllowWrite
	}
	if meta.IsDefined("provider", "idle_timeout") {
		d, err := parseDuration(raw.Provider.IdleTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse provider.idle_timeout: %w", err)
		}
		cfg.Provide.IdleTimeout = d
	}

	if meta.IsDefined("consumer", "name") {
		cfg.Consume.Name = strings.TrimSpace(raw.Consumer.Name)
	}
	if meta.IsDefined("consumer", "timeout") {
		d, err := parseDuration(raw.Consumer.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse consumer.timeout: %w", err)
		}
		cfg.Consume.Timeout = d
	}
	if meta.IsDefined("consumer", "keepalive") {
		d, err := parseDuration(raw.Consumer.Keepalive)
		if err != nil {
			return Config{}, fmt.Errorf("parse consumer.keepalive: %w", err)
		}
		cfg.Consume.KeepaliveInterval = d
	}

	if meta.IsDefined("transport", "max_frame") {
		if raw.Transport.MaxFrame <= 0 || raw.Transport.MaxFrame > transport.MaxFrameHardLimit {
			return Config{}, fmt.Errorf("transport.max_frame %d out of range", raw.Transport.MaxFrame)
		}
		cfg.Limits.MaxFrame = raw.Transport.MaxFrame
	}
	if meta.IsDefined("transport", "compression") {
		alg := strings.ToLower(strings.TrimSpace(raw.Transport.Compression))
		switch alg {
		case transport.CompressionNone, transport.CompressionS2, transport.CompressionZstd:
			cfg.Compression = alg
		default:
			return Config{}, fmt.Errorf("transport.compression %q is not one of none, s2, zstd", raw.Transport.Compression)
		}
	}

	return cfg, nil
}

func parseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return time.ParseDuration(strings.TrimSpace(d))
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", v)
	}
}
