package farcall

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultKeepaliveInterval = 60 * time.Second
)

// ProvideOptions configure a provider.
type ProvideOptions struct {
	// AllowWrite enables the set operation.
	AllowWrite bool
	// Name labels log lines.
	Name string
	// IdleTimeout tears the provider down when no request arrived for that
	// long. Zero means DefaultIdleTimeout, negative disables it.
	IdleTimeout time.Duration
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// ConsumeOptions configure a consumer.
type ConsumeOptions struct {
	// Timeout bounds every request. Zero waits for the response or the
	// caller's context.
	Timeout time.Duration
	Name    string
	// KeepaliveInterval spaces pings that keep the provider's idle timer
	// from firing. Zero means DefaultKeepaliveInterval, negative disables.
	KeepaliveInterval time.Duration
	Logger            *zerolog.Logger
}

func (o ProvideOptions) idleTimeout() time.Duration {
	if o.IdleTimeout == 0 {
		return DefaultIdleTimeout
	}
	return o.IdleTimeout
}

func (o ConsumeOptions) keepaliveInterval() time.Duration {
	if o.KeepaliveInterval == 0 {
		return DefaultKeepaliveInterval
	}
	return o.KeepaliveInterval
}

func componentLogger(l *zerolog.Logger, component, name string) zerolog.Logger {
	base := log.Logger
	if l != nil {
		base = *l
	}
	ctx := base.With().Str("component", component)
	if name != "" {
		ctx = ctx.Str("name", name)
	}
	return ctx.Logger()
}
