package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fishnet/internal/api"
	"fishnet/internal/assets"
	"fishnet/internal/backoff"
	"fishnet/internal/config"
	"fishnet/internal/engine"
	"fishnet/internal/httpapi"
	"fishnet/internal/logger"
	"fishnet/internal/notation"
	"fishnet/internal/sink"
	"fishnet/internal/worker"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "2.0.0-dev"

// Process exit codes.
const (
	exitOK      = 0
	exitStartup = 1
	exitAuth    = 2
)

const httpTimeout = time.Minute

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Getenv))
}

func execute(args []string, out io.Writer, getenv func(string) string) int {
	root := buildRootCmd(out, getenv)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fishnet:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, worker.ErrAuthenticationFailed):
		return exitAuth
	default:
		return exitStartup
	}
}

// flagName maps a config key to its command line flag.
func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

type cliOptions struct {
	confPath string
	verbose  int
	stderr   bool
	jsonLog  bool
}

func buildRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	var opts cliOptions
	root := &cobra.Command{
		Use:           "fishnet",
		Short:         "Distributed chess analysis worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts, getenv)
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Verbose: opts.verbose, Stderr: opts.stderr, JSON: opts.jsonLog})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg, log)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.confPath, "conf", "", "Configuration file (.ini, .toml, .yaml, .json)")
	pf.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (-v debug, -vv engine traffic)")
	pf.BoolVar(&opts.stderr, "stderr", false, "Log to stderr instead of stdout")
	pf.BoolVar(&opts.jsonLog, "json-log", false, "Log JSON even on a terminal")
	for _, k := range config.Keys {
		pf.String(flagName(k), "", "Override the "+k+" setting")
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and locate the engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts, getenv)
			if err != nil {
				return err
			}
			engines, err := assets.Resolve(cfg.EngineBin, cfg.MultiVariantBin, searchDirs())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "endpoint: %s\n", cfg.Endpoint)
			fmt.Fprintf(out, "cores: %d\n", cfg.Cores)
			fmt.Fprintf(out, "engine: %s\n", engines[notation.FlavorOfficial])
			if mv := engines[notation.FlavorMultiVariant]; mv != "" {
				fmt.Fprintf(out, "multi-variant engine: %s\n", mv)
			}
			return nil
		},
	}
	root.AddCommand(check)
	return root
}

// loadConfig layers defaults, the config file, FISHNET_* variables and
// flags, in increasing precedence.
func loadConfig(cmd *cobra.Command, opts cliOptions, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	if opts.confPath != "" {
		var err error
		if cfg, err = config.Load(opts.confPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	for _, k := range config.Keys {
		if !flags.Changed(flagName(k)) {
			continue
		}
		v, _ := flags.GetString(flagName(k))
		if err := cfg.Set(k, v); err != nil {
			return cfg, fmt.Errorf("flag --%s: %w", flagName(k), err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// searchDirs are scanned for engine builds: the working directory and the
// directory of the fishnet executable.
func searchDirs() []string {
	dirs := []string{"."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

func runWorker(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	log.Headline("fishnet " + version)
	engines, err := assets.Resolve(cfg.EngineBin, cfg.MultiVariantBin, searchDirs())
	if err != nil {
		return err
	}
	rules, err := assets.RulesFile(cfg.VariantRules)
	if err != nil {
		return err
	}
	gov := backoff.New(backoff.Options{
		User:   backoff.Threshold{Wait: cfg.UserBacklog.Wait, Size: cfg.UserBacklog.Size},
		System: backoff.Threshold{Wait: cfg.SystemBacklog.Wait, Size: cfg.SystemBacklog.Size},
	})
	pool, err := engine.NewPool(engine.PoolConfig{
		Cores:    cfg.Cores,
		Binaries: engines,
		Handle: engine.HandleOptions{
			Threads:      1,
			HashMB:       cfg.HashMB,
			VariantRules: rules,
			Liveness:     cfg.LivenessTimeout,
			StopTimeout:  cfg.StopTimeout,
		},
		Governor: gov,
		Logger:   log.Logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start engines: %w", err)
	}

	client := api.NewClient(cfg.Endpoint, cfg.Key, version, &http.Client{Timeout: httpTimeout})
	results := sink.New(client, sink.Options{Attempts: uint(cfg.SubmitAttempts), Logger: log.Logger})
	d := worker.New(worker.EnginePool(pool), api.NewSource(client), results, gov, worker.Options{
		Grace:        cfg.Grace,
		MultiVariant: engines[notation.FlavorMultiVariant] != "",
		Logger:       log,
	})
	log.Info().
		Str("endpoint", cfg.Endpoint).
		Int("cores", cfg.Cores).
		Str("session", client.Session()).
		Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	if cfg.StatusAddr != "" {
		httpapi.SetLogger(log.Logger)
		httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
		g.Go(func() error { return httpapi.Serve(gctx, cfg.StatusAddr, httpapi.NewMux(d)) })
	}
	err = g.Wait()
	st := d.Status()
	log.Info().
		Uint64("completed", st.Completed).
		Uint64("failed", st.Failed).
		Uint64("abandoned", st.Abandoned).
		Msg("worker stopped")
	return err
}
