package farcall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/transport"
	"github.com/machinefabric/farcall-go/wire"
)

// link returns the root channels of two muxes joined by an in-memory pipe.
func link(t *testing.T) (server, client *mux.Channel) {
	t.Helper()
	a, b := transport.Pipe()
	server, client = mux.Multiplex(a), mux.Multiplex(b)
	t.Cleanup(func() {
		server.Close()
		client.Close()
		a.Close()
	})
	return server, client
}

// serve provides target on a fresh link and returns a consumer for it.
func serve(t *testing.T, target any, opts ProvideOptions) (*Provider, *Remote) {
	t.Helper()
	server, client := link(t)
	p := Provide(target, server, opts)
	rem := Consume(client, ConsumeOptions{KeepaliveInterval: -1})
	t.Cleanup(rem.Release)
	return p, rem
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireCode(t *testing.T, err error, code wire.ErrorCode) *CallError {
	t.Helper()
	require.Error(t, err)
	var cerr *CallError
	require.True(t, errors.As(err, &cerr), "expected *CallError, got %T: %v", err, err)
	require.Equal(t, code, cerr.Code, "error: %v", err)
	return cerr
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Incr() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type calculator struct {
	Count  int
	Label  string `farcall:"label"`
	Hidden string `farcall:"-"`
	Nested *point
	secret string

	release chan struct{}
}

type point struct {
	X, Y int
}

func newCalculator() *calculator {
	return &calculator{
		Count:   3,
		Label:   "calc",
		Hidden:  "nope",
		Nested:  &point{X: 1, Y: 2},
		secret:  "s3cr3t",
		release: make(chan struct{}),
	}
}

func (c *calculator) Add(a, b int) int { return a + b }

func (c *calculator) Sum(ctx context.Context, xs ...int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func (c *calculator) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func (c *calculator) DivMod(a, b int) (int, int) { return a / b, a % b }

func (c *calculator) Boom() { panic("boom") }

func (c *calculator) Get() map[string]int { return map[string]int{"x": 1} }

func (c *calculator) Counter() *counter { return &counter{} }

func (c *calculator) Apply(fn func(int) int, x int) int { return fn(x) }

func (c *calculator) Notify(fn func(int)) { fn(42) }

func (c *calculator) Echo(v any) any { return v }

func (c *calculator) Same(a, b *Remote) bool { return a == b }

func (c *calculator) Now() time.Time { return time.UnixMilli(1_700_000_000_123).UTC() }

// Wait blocks until the test releases it or the provider shuts down.
func (c *calculator) Wait(ctx context.Context) error {
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
