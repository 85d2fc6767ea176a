package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/machinefabric/farcall-go"
	"github.com/machinefabric/farcall-go/internal/logging"
	"github.com/machinefabric/farcall-go/mux"
	"github.com/machinefabric/farcall-go/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	serveMode := flag.Bool("serve", false, "serve the demo object on stdin/stdout")
	flag.Parse()

	if err := run(*configPath, *serveMode); err != nil {
		fmt.Fprintf(os.Stderr, "farcalld: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, serveMode bool) error {
	cfg := farcall.DefaultConfig()
	if configPath != "" {
		loaded, err := farcall.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveMode {
		logging.Configure(logging.ProfileChild)
		return serve(ctx, cfg)
	}
	logging.ConfigureRuntime()
	return demo(ctx, cfg, configPath)
}

// serve provides the demo service until stdin closes.
func serve(ctx context.Context, cfg farcall.Config) error {
	stream := transport.Stdio(cfg.Limits)
	link, err := transport.Compress(stream, cfg.Compression)
	if err != nil {
		return err
	}
	root := mux.Multiplex(link)
	defer root.Close()

	p := farcall.Provide(newService(), root, cfg.Provide)
	defer p.Close()
	log.Info().Str("component", "farcalld").Str("compression", cfg.Compression).Msg("serving on stdio")

	select {
	case <-stream.Done():
		return stream.Err()
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

// demo spawns a serving copy of this binary and drives it.
func demo(ctx context.Context, cfg farcall.Config, configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"-serve"}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	proc, err := transport.SpawnWithLimits(ctx, cfg.Limits, exe, args...)
	if err != nil {
		return err
	}
	defer proc.Close()

	link, err := transport.Compress(proc, cfg.Compression)
	if err != nil {
		return err
	}
	root := mux.Multiplex(link)
	defer root.Close()
	api := farcall.Consume(root, cfg.Consume)
	defer api.Release()

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	v, err := api.Get("add").Call(callCtx, 5, 3)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	sum, err := farcall.As[int](v)
	if err != nil {
		return err
	}
	log.Info().Int("sum", sum).Msg("add(5, 3)")

	greetings := make(chan string, 1)
	if _, err := api.Get("greet").Call(callCtx, "world", func(msg string) { greetings <- msg }); err != nil {
		return fmt.Errorf("greet: %w", err)
	}
	select {
	case msg := <-greetings:
		log.Info().Str("greeting", msg).Msg("greet callback")
	case <-callCtx.Done():
		return fmt.Errorf("greet callback: %w", callCtx.Err())
	}

	v, err = api.Get("clock").Call(callCtx)
	if err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	clock := v.Remote()
	defer clock.Release()
	v, err = clock.Get("now").Call(callCtx)
	if err != nil {
		return fmt.Errorf("clock.now: %w", err)
	}
	now, err := farcall.As[time.Time](v)
	if err != nil {
		return err
	}
	log.Info().Time("remote_now", now).Msg("clock.now()")

	v, err = api.Get("name").Await(callCtx)
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	log.Info().Interface("name", v.Interface()).Msg("await name")
	return nil
}
