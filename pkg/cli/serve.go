package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/cli/config"
	httpctrl "github.com/secmon-lab/switchboard/pkg/controller/http"
	"github.com/secmon-lab/switchboard/pkg/service/audit"
	"github.com/secmon-lab/switchboard/pkg/service/worker"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// engineConfig groups the flags shared by every command that runs syncs or
// dispatches
type engineConfig struct {
	repo   config.Repository
	slack  config.Slack
	idp    config.IdP
	lock   config.Lock
	policy config.Policy
}

func (x *engineConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.slack.Flags()...)
	flags = append(flags, x.idp.Flags()...)
	flags = append(flags, x.lock.Flags()...)
	flags = append(flags, x.policy.Flags()...)
	return flags
}

// engine is the wired application. close releases everything in reverse
// order of construction.
type engine struct {
	uc        *usecase.UseCases
	schedules []worker.Schedule
	audit     *audit.Async
	closers   []func()
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (x *engineConfig) build(ctx context.Context) (_ *engine, err error) {
	e := &engine{}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	policies, err := x.policy.Configure()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policy")
	}
	e.schedules = policies.Schedules

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}
	e.closers = append(e.closers, func() {
		if err := repo.Close(); err != nil {
			logging.Default().Error("failed to close repository", "error", err.Error())
		}
	})

	locker, closeLock, err := x.lock.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize sync lock")
	}
	e.closers = append(e.closers, closeLock)

	// audit events outlive request contexts, so the writer gets its own
	e.audit = audit.NewAsync(context.WithoutCancel(ctx), audit.NewLogger(logging.Default()))
	e.closers = append(e.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.audit.Close(closeCtx); err != nil {
			logging.Default().Error("failed to flush audit events", "error", err.Error())
		}
		if n := e.audit.Dropped(); n > 0 {
			logging.Default().Warn("Audit events dropped", "count", n)
		}
	})

	opts := []usecase.Option{
		usecase.WithLocker(locker),
		usecase.WithAuditSink(e.audit),
		usecase.WithSyncPolicy(policies.Sync),
		usecase.WithDispatchPolicy(policies.Dispatch),
	}

	directory, err := x.idp.Configure()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure identity provider")
	}
	if directory != nil {
		opts = append(opts, usecase.WithDirectoryProvider(directory))
		logging.Default().Info("Identity provider enabled", "idp", x.idp)
	} else {
		logging.Default().Warn("Identity provider not configured, user syncs are unavailable")
	}

	chat, err := x.slack.Configure()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure slack")
	}
	if chat != nil {
		opts = append(opts, usecase.WithChatProvider(chat))
		logging.Default().Info("Slack enabled", "slack", x.slack)
	} else {
		logging.Default().Warn("Slack bot token not configured, room syncs and dispatch are unavailable")
	}

	e.uc = usecase.New(repo, opts...)
	return e, nil
}

// shutdownUseCases waits for running syncs and dispatch jobs to record
// their final state
func shutdownUseCases(uc *usecase.UseCases, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := uc.Shutdown(ctx); err != nil {
		logging.Default().Error("failed to shut down use cases", "error", err.Error())
	}
}

func cmdServe() *cli.Command {
	var addr string
	var enableScheduler bool
	var maxListLimit int
	var shutdownTimeout time.Duration
	var engineCfg engineConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("SWITCHBOARD_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "scheduler",
			Usage:       "Run scheduled syncs in this process",
			Value:       true,
			Sources:     cli.EnvVars("SWITCHBOARD_SCHEDULER"),
			Destination: &enableScheduler,
		},
		&cli.IntFlag{
			Name:        "max-list-limit",
			Usage:       "Upper bound of the limit query parameter",
			Value:       1000,
			Sources:     cli.EnvVars("SWITCHBOARD_MAX_LIST_LIMIT"),
			Destination: &maxListLimit,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "Time to wait for running syncs and dispatch jobs on shutdown",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("SWITCHBOARD_SHUTDOWN_TIMEOUT"),
			Destination: &shutdownTimeout,
		},
	}
	flags = append(flags, engineCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and sync scheduler",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := engineCfg.build(ctx)
			if err != nil {
				return err
			}
			defer eng.close()

			var scheduler *worker.SyncScheduler
			if enableScheduler {
				scheduler = worker.NewSyncScheduler(eng.uc.Sync, eng.schedules...)
				if err := scheduler.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start sync scheduler")
				}
			}

			httpOpts := []httpctrl.Options{
				httpctrl.WithMaxListLimit(maxListLimit),
			}
			if engineCfg.slack.IsWebhookConfigured() {
				httpOpts = append(httpOpts, httpctrl.WithSlackWebhook(engineCfg.slack.SigningSecret()))
				logging.Default().Info("Slack event webhook enabled")
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(eng.uc, httpOpts...),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server",
					"addr", addr,
					"scheduler", enableScheduler,
					"policy", engineCfg.policy,
					"lock", engineCfg.lock,
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			var runErr error
			select {
			case runErr = <-errCh:
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)
			}

			// Stop scheduling first so that no new run starts while draining
			if scheduler != nil {
				scheduler.Stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
				runErr = goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			shutdownUseCases(eng.uc, shutdownTimeout)
			logging.Default().Info("Server shutdown completed")
			return runErr
		},
	}
}
