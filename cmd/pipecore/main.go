// Command pipecore runs a minimal HTTP front door over a hand-assembled
// pipeline.Layout: every request is logged on stream start and answered
// with a plain-text summary of the request the layout's filters saw. It
// exists to wire config, logger, designer, and listener together the way
// a real deployment would, not to demonstrate every joint filter family —
// those are exercised individually in each package's own tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymesh/pipecore/config"
	"github.com/relaymesh/pipecore/designer"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/handle"
	"github.com/relaymesh/pipecore/listener"
	"github.com/relaymesh/pipecore/logger"
	middleware "github.com/relaymesh/pipecore/middleware/http-mdl"
	"github.com/relaymesh/pipecore/pipeline"
	"github.com/relaymesh/pipecore/timer"
	"github.com/relaymesh/pipecore/worker"
)

func main() {
	if err := run(); err != nil {
		logger.DefaultSlog.Error("pipecore exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var envFiles []string
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}

	engine, err := config.FromEnv(envFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewSlog(logger.WithTextHandler(os.Stdout, slog.LevelInfo))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := worker.New(ctx, log, timer.SystemClock{})

	layout, err := buildLayout(log)
	if err != nil {
		return fmt.Errorf("building layout: %w", err)
	}

	cfg := listener.Config{
		Layout:        layout,
		WorkerContext: w.Context(),
		CORS:          corsConfig(),
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   engine.MuxIdleSweep,
	}

	addr := addrFromEnv()

	srv := &http.Server{
		Addr:         addr,
		Handler:      listener.NewHandler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("listening", "addr", addr, "workerCount", engine.WorkerCount)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err

			return
		}

		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func addrFromEnv() string {
	if addr := os.Getenv("EZX_PIPECORE_ADDR"); addr != "" {
		return addr
	}

	return net.JoinHostPort("0.0.0.0", "8080")
}

func corsConfig() *middleware.CORSConfig {
	cfg := middleware.DefaultCORSConfig()

	return &cfg
}

// buildLayout assembles the demo pipeline: log every stream's start, then
// answer every request with a summary of what the listener translated it
// into.
func buildLayout(log logger.Logger) (*pipeline.Layout, error) {
	d := designer.New("demo")

	d.Handle(handle.OnStreamStart, func(_ handle.Aggregate, resume func(error)) {
		log.Debug("stream started")
		resume(nil)
	})

	d.Use(&summaryReply{})

	return d.Build()
}

// summaryReply answers every request with its method, path, and the
// request ID the listener assigned it — a visible proof that the request
// actually passed through the event model rather than a bare reverse proxy.
type summaryReply struct {
	filter.Base
}

func (f *summaryReply) Clone() filter.Filter { return &summaryReply{} }

func (f *summaryReply) Process(ctx *gate.Context, ev event.Event) {
	start, ok := ev.(*event.MessageStart)
	if !ok {
		return
	}

	method, _ := start.Head["method"].(string)
	path, _ := start.Head["path"].(string)
	reqID, _ := start.Head["requestId"].(string)

	reply := event.NewMessageStart()
	reply.Head["status"] = http.StatusOK
	reply.Head["header"] = http.Header{"Content-Type": {"text/plain; charset=utf-8"}}

	f.Output(ctx, reply)
	f.Output(ctx, event.NewData([]byte(fmt.Sprintf("%s %s (request %s)\n", method, path, reqID))))
	f.Output(ctx, &event.MessageEnd{})
}
