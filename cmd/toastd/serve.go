package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toastd/toastd/internal/actions"
	"github.com/toastd/toastd/internal/authgate"
	"github.com/toastd/toastd/internal/config"
	"github.com/toastd/toastd/internal/dispatch"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/notify"
	"github.com/toastd/toastd/internal/server"
	"github.com/toastd/toastd/internal/stager"
)

var log = logging.L("main")

const (
	startupTimeout  = 45 * time.Second
	shutdownTimeout = 15 * time.Second
)

var (
	flagBind     string
	flagPort     int
	flagUsername string
	flagPassword string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyServeFlags(cmd, cfg)
		return runServer(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagBind, "bind", "", "listen address (default 127.0.0.1)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (default 3000)")
	serveCmd.Flags().StringVar(&flagUsername, "username", "", "username required from non-loopback callers")
	serveCmd.Flags().StringVar(&flagPassword, "password", "", "password required from non-loopback callers")
}

// applyServeFlags overrides file and environment values with flags the user
// actually passed.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.Bind = flagBind
	}
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("username") {
		cfg.Username = flagUsername
	}
	if flags.Changed("password") {
		cfg.Password = flagPassword
	}
}

func initLogging(cfg *config.Config) io.Closer {
	var out io.Writer = os.Stdout
	var closer io.Closer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", cfg.LogFile, err)
		} else {
			out = io.MultiWriter(os.Stdout, rw)
			closer = rw
		}
	}
	logging.Setup(logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: out})
	return closer
}

func runServer(cfg *config.Config) error {
	if closer := initLogging(cfg); closer != nil {
		defer closer.Close()
	}
	cfg.Validate()

	log.Info("starting toastd", "version", version, "addr", cfg.Addr(), "appId", cfg.AppID)

	monitor := health.NewMonitor()

	st, err := stager.New(cfg.ScratchDir)
	if err != nil {
		monitor.Update(health.ComponentStager, health.Unhealthy, err.Error())
		return err
	}
	monitor.Update(health.ComponentStager, health.Healthy, "")

	executor := actions.New(actions.Options{
		Workers:   cfg.ActionWorkers,
		QueueSize: cfg.ActionQueueSize,
		Timeout:   cfg.CallbackTimeout(),
	})
	monitor.Update(health.ComponentActions, health.Healthy, "")

	exePath, err := os.Executable()
	if err != nil {
		log.Warn("cannot resolve executable path", logging.KeyError, err)
	}

	svc := notify.New(notify.Options{
		Stager:   st,
		Backend:  dispatch.NewBackend(),
		Source:   dispatch.Source{AppID: cfg.AppID, DisplayName: cfg.DisplayName, ExePath: exePath},
		Executor: executor,
		Monitor:  monitor,

		AttachmentRetention: cfg.AttachmentRetention(),
		EntryTTL:            cfg.EntryTTL(),
		PurgeInterval:       cfg.PurgeInterval(),
	})

	// The source must be registered before the listener accepts /notify.
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	err = svc.Start(startCtx)
	cancel()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.Shutdown(shutdownCtx)
		return err
	}
	if err := prometheus.Register(svc.Collector()); err != nil {
		log.Warn("registry gauge not registered", logging.KeyError, err)
	}

	gate := authgate.New(authgate.Options{
		Credentials: authgate.Credentials{
			Username:     cfg.Username,
			Password:     cfg.Password,
			PasswordHash: cfg.PasswordHash,
		},
		AllowUnauthenticatedRemote: cfg.AllowUnauthenticatedRemote,
		MaxFailures:                cfg.AuthMaxFailures,
		FailureWindow:              cfg.AuthFailureWindow(),
	})

	srv := server.New(server.Options{
		Addr:         cfg.Addr(),
		MaxBodyBytes: int64(cfg.MaxUploadMB) << 20,
		RateLimit:    cfg.RateLimitPerSecond,
		RateBurst:    cfg.RateLimitBurst,

		MaxConnections: cfg.MaxConnections,
	}, svc, gate, monitor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			log.Error("server failed", logging.KeyError, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", logging.KeyError, err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn("service shutdown incomplete", logging.KeyError, err)
	}
	log.Info("stopped")
	return err
}
