package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-connserver/admin"
	"github.com/cyberinferno/go-connserver/admission"
	"github.com/cyberinferno/go-connserver/cacher"
	"github.com/cyberinferno/go-connserver/config"
	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/metrics"
	"github.com/cyberinferno/go-connserver/resolver"
	"github.com/cyberinferno/go-connserver/server"
	"github.com/cyberinferno/go-connserver/sigctl"
)

type serveFlags struct {
	interfaces string
	adminAddr  string
	logLevel   string
	logDir     string
}

func serveCmd(configPath *string) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until a stop signal arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), *configPath, cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.interfaces, "interfaces", "i", "", "';'-separated listen addresses (overrides config)")
	cmd.Flags().StringVar(&flags.adminAddr, "admin", "", "admin HTTP address, e.g. 127.0.0.1:9090 (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "directory for daily log files (overrides config)")

	return cmd
}

// loadConfig reads the configuration file and applies flags the user set.
func loadConfig(cmd *cobra.Command, path string, flags serveFlags) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	fs := cmd.Flags()
	if fs.Changed("interfaces") {
		cfg.Server.Interfaces = flags.interfaces
	}
	if fs.Changed("admin") {
		cfg.Admin.Addr = flags.adminAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if fs.Changed("log-dir") {
		cfg.Log.Dir = flags.logDir
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Dir == "" {
		return logger.NewZerologLogger(os.Stdout, cfg.Server.Name, level), nil
	}
	return logger.NewZerologFileLogger(cfg.Server.Name, cfg.Log.Dir, level)
}

func newResolver(cfg config.ResolverConfig, log logger.Logger) (*resolver.PeerResolver, func()) {
	var (
		names   cacher.Cacher[string]
		cleanup = func() {}
	)

	switch cfg.Cache {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		names = cacher.NewRedisCacher[string](client, cfg.Redis.Prefix, cfg.Timeout)
		cleanup = func() { _ = client.Close() }
	default:
		names = cacher.NewMemoryCacher[string](cache.NoExpiration, cfg.TTL)
	}

	return resolver.New(names, resolver.Config{Timeout: cfg.Timeout, TTL: cfg.TTL}, log), cleanup
}

func serve(ctx context.Context, configPath string, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(
		metrics.WithRegistry(reg),
		metrics.WithConstLabels(prometheus.Labels{"server": cfg.Server.Name}),
	)

	filter, err := admission.New(cfg.AdmissionRules(), log)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	opts := []server.Option{server.WithLogger(log), server.WithMetrics(m)}
	if cfg.Resolver.Enabled {
		res, cleanup := newResolver(cfg.Resolver, log)
		defer cleanup()
		opts = append(opts, server.WithHooks(res))
	}
	opts = append(opts, server.WithHooks(filter))

	srv, err := server.New(cfg.ServerOptions(), echoHandler{greeting: cfg.Server.Greeting}, opts...)
	if err != nil {
		return err
	}

	ctl := sigctl.New(log, log.Reopen, func() error {
		fresh, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return filter.Reload(fresh.Admission.Allow, fresh.Admission.Deny)
	})
	if err := ctl.Init(); err != nil {
		return err
	}
	defer ctl.Fini()

	if err := srv.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Admin.Addr != "" {
		adm := admin.NewServer(cfg.Admin.Addr, admin.NewRouter(srv, reg), log)
		g.Go(func() error { return adm.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()

		sig, waitErr := ctl.Wait(gctx)
		graceful := waitErr == nil && sigctl.IsGraceful(sig)
		stopErr := srv.Stop(graceful)
		if errors.Is(stopErr, server.ErrStopTimeout) {
			log.Warn("some workers were abandoned at shutdown")
			stopErr = nil
		}

		if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			return errors.Join(waitErr, stopErr)
		}
		return stopErr
	})

	return g.Wait()
}
