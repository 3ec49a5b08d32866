package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reviewhooks/internal/handler"
	"reviewhooks/internal/queue"
	"reviewhooks/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept events over HTTP and deliver them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides listen_addr")
	return cmd
}

// serve runs the HTTP server, and in async mode the worker pool, until ctx
// is done.
func serve(ctx context.Context, a *app) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}

	var (
		q    queue.Queue
		pool *worker.Pool
	)
	if a.cfg.Mode == "async" {
		q, err = a.openQueue(ctx)
		if err != nil {
			return err
		}
		pool = worker.NewPool(q, engine,
			worker.WithSize(a.cfg.Workers),
			worker.WithLogger(a.logger),
			worker.WithCredentials(a.registry()),
		)
		// Deliveries outlive the signal context so Stop can drain them.
		pool.Start(context.WithoutCancel(ctx))
	}

	d := a.dispatcher(engine, q)
	h := handler.NewNotifyHandler(d, a.vocab, a.logger, handler.WithDeliveryContext(ctx))
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("reviewhooks listening",
			slog.String("addr", a.cfg.ListenAddr),
			slog.String("mode", string(d.Mode())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool: %w", err))
		}
	}
	return errors.Join(errs...)
}
