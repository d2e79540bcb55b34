package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alexhsamuel/procstar/internal/applog"
	"github.com/alexhsamuel/procstar/internal/exitcode"
	"github.com/alexhsamuel/procstar/internal/httpapi"
	"github.com/alexhsamuel/procstar/internal/procs"
	"github.com/alexhsamuel/procstar/internal/resprint"
	"github.com/alexhsamuel/procstar/internal/spec"
	"github.com/alexhsamuel/procstar/internal/wsuplink"
)

// config binds the CLI flags into a plain struct, the way urfave/cli flags
// are conventionally bound with Destination pointers.
type config struct {
	Input       string
	Output      string
	Serve       bool
	HttpAddr    string
	Connect     string
	Group       string
	RestrictExe string
	Debug       bool
	LogFile     string
}

func newApp() *cli.App {
	cfg := &config{}
	return &cli.App{
		Name:  "procstar",
		Usage: "launch and supervise processes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Usage: "path to a procs spec JSON file", Destination: &cfg.Input},
			&cli.StringFlag{Name: "output", Usage: "path to write results JSON; default stdout", Destination: &cfg.Output},
			&cli.BoolFlag{Name: "serve", Usage: "run the HTTP API adapter", Destination: &cfg.Serve},
			&cli.StringFlag{Name: "http-addr", Usage: "address for --serve to listen on", Value: ":8080", Destination: &cfg.HttpAddr},
			&cli.StringFlag{Name: "connect", Usage: "WebSocket URL of a remote orchestrator to connect to", Destination: &cfg.Connect},
			&cli.StringFlag{Name: "group", Usage: "group label to present on the WebSocket handshake", Destination: &cfg.Group},
			&cli.StringFlag{Name: "restrict-exe", Usage: "only permit execing this exact executable path", Destination: &cfg.RestrictExe},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", Destination: &cfg.Debug},
			&cli.StringFlag{Name: "log-file", Usage: "rotate logs to this file instead of stderr", Destination: &cfg.LogFile},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	applog.Init(applog.Config{Debug: cfg.Debug, LogFile: cfg.LogFile})

	specs, err := loadSpecs(cfg.Input)
	if err != nil {
		return cli.Exit(err.Error(), exitcode.DataErr)
	}

	registry := procs.NewRegistry()
	launcher := procs.NewLauncher(registry, cfg.RestrictExe)

	if len(specs) > 0 {
		if err := launcher.StartProcs(ctx, specs); err != nil {
			return cli.Exit(err.Error(), exitcode.OSErr)
		}
	}

	if !cfg.Serve && cfg.Connect == "" {
		return runOneShot(ctx, registry, cfg.Output)
	}
	return runAgent(ctx, registry, launcher, cfg)
}

func loadSpecs(path string) (spec.ProcsSpec, error) {
	if path == "" {
		return spec.ProcsSpec{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return spec.Load(data)
}

// runOneShot waits for every launched proc to finish, prints the collected
// results, and returns. See SPEC_FULL.md "CLI Adapter".
func runOneShot(ctx context.Context, registry *procs.Registry, output string) error {
	watcher := procs.NewSignalWatcher(syscall.SIGCHLD)
	defer watcher.Stop()
	reaper := procs.NewReaper(registry, watcher)
	reaperCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go reaper.Run(reaperCtx)

	if err := registry.WaitRunning(ctx); err != nil {
		return cli.Exit(err.Error(), exitcode.Software)
	}

	res := procs.ToRes(registry.CollectResults())
	if err := resprint.WriteFile(output, res); err != nil {
		return cli.Exit(err.Error(), exitcode.IOErr)
	}
	return nil
}

// runAgent starts the HTTP API and/or the WebSocket uplink, in addition to
// the stat-sampling reaper, and blocks until ctx is canceled (SIGINT/SIGTERM)
// or registry.SetShutdown is called.
func runAgent(parent context.Context, registry *procs.Registry, launcher *procs.Launcher, cfg *config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := procs.NewSignalWatcher(syscall.SIGCHLD)
	defer watcher.Stop()
	reaper := procs.NewReaper(registry, watcher)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})

	if cfg.Serve {
		srv := &http.Server{Addr: cfg.HttpAddr, Handler: httpapi.NewServer(registry, launcher).Handler()}
		g.Go(func() error {
			logrus.WithField("addr", cfg.HttpAddr).Info("http api listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Connect != "" {
		client := wsuplink.NewClient(cfg.Connect, cfg.Group, registry, launcher)
		g.Go(func() error {
			return client.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := registry.WaitForShutdown(gctx); err != nil {
			return err
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), exitcode.Software)
	}
	return nil
}
