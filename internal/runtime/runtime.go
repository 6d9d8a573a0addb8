package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamscribe/streamscribe/internal/bus"
	"github.com/streamscribe/streamscribe/internal/config"
	"github.com/streamscribe/streamscribe/internal/natsserver"
	"github.com/streamscribe/streamscribe/internal/quota"
	"github.com/streamscribe/streamscribe/internal/session"
	"github.com/streamscribe/streamscribe/internal/stream"
	"github.com/streamscribe/streamscribe/internal/transcribe"
	"github.com/streamscribe/streamscribe/internal/transcripts"
	"github.com/streamscribe/streamscribe/internal/translate"
)

// Runtime assembles the broker, stores, adapters, and the session manager
// into one process and runs them until the context is cancelled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	healthy     func() bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded broker: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	archive, err := transcripts.Open(ctx, r.cfg.Transcripts, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer archive.Close()

	var ledger quota.Ledger
	if r.cfg.Quota.Enabled {
		store, err := quota.Open(ctx, r.cfg.Quota, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open usage ledger: %w", err)
		}
		defer store.Close()
		ledger = store
	}

	recognizer, err := buildRecognizer(r.cfg.Transcribe.Batch)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	batch := transcribe.NewBatchAdapter(ctx, r.cfg.Transcribe, recognizer, r.logger)
	defer batch.Close()
	streaming := transcribe.NewStreamingAdapter(r.cfg.Transcribe, r.logger)
	defer streaming.Close()

	var translator translate.Translator
	if r.cfg.Translate.Enabled {
		switch r.cfg.Translate.Mode {
		case "openai":
			translator = translate.NewOpenAITranslator(r.cfg.Translate)
		default:
			translator = translate.NewMockTranslator()
		}
	}

	svc := stream.NewService(ctx, r.cfg, stream.Deps{
		Bus:        busClient,
		Registry:   session.NewRegistry(),
		Batch:      batch,
		Streaming:  streaming,
		Translator: translator,
		Ledger:     ledger,
		Archive:    archive,
		Logger:     r.logger,
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer svc.Close()

	r.healthy = func() bool {
		return busClient.Healthy() && svc.Healthy()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildRecognizer(cfg config.BatchSTTConfig) (transcribe.Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return transcribe.NewExecRecognizer(cfg)
	case "openai":
		return transcribe.NewOpenAIRecognizer(cfg), nil
	default:
		return transcribe.NewMockRecognizer(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy != nil && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
