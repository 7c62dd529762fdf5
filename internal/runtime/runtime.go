package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/gateway"
	"github.com/murmurlabs/murmur-core/internal/gesture"
	"github.com/murmurlabs/murmur-core/internal/history"
	"github.com/murmurlabs/murmur-core/internal/identity"
	"github.com/murmurlabs/murmur-core/internal/orchestrator"
	"github.com/murmurlabs/murmur-core/internal/speech"
	"github.com/murmurlabs/murmur-core/internal/stt"
	"github.com/murmurlabs/murmur-core/internal/tts"
)

// Options carries the host-provided collaborators. Zero values get headless
// defaults so the daemon runs standalone: no microphone, discarded playback,
// a logging UI.
type Options struct {
	Capture audio.CaptureSource
	Player  tts.Player
	UI      orchestrator.UI
}

// Runtime wires identity, gateway, orchestrator, speech pipeline, and the
// observation HTTP endpoints into one process.
type Runtime struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	identity *identity.Identity
	client   *gateway.Client
	orch     *orchestrator.Orchestrator
	pipeline *speech.Pipeline
	store    *history.Store
	talk     *gesture.Detector
	toggle   *gesture.Detector

	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, opts Options, logger *slog.Logger) *Runtime {
	if opts.Capture == nil {
		opts.Capture = audio.NullSource{}
	}
	if opts.Player == nil {
		opts.Player = tts.NullPlayer{}
	}
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// TalkDetector is the push-to-talk gesture: hold starts a recording, release
// stops it.
func (r *Runtime) TalkDetector() *gesture.Detector { return r.talk }

// ToggleDetector flips a recording session on each recognized gesture.
func (r *Runtime) ToggleDetector() *gesture.Detector { return r.toggle }

// Orchestrator exposes the turn driver for host integrations.
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator { return r.orch }

// History exposes the persisted turn log.
func (r *Runtime) History() *history.Store { return r.store }

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Identity loads before telemetry so the device id lands in the
	// telemetry resource.
	id, err := identity.LoadOrCreate(r.cfg.Identity.KeyPath, r.logger)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	r.identity = id
	r.logger.Info("device identity ready", slog.String("device_id", id.DeviceID()))

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, id.DeviceID(), r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	r.store = store

	ui := r.opts.UI
	if ui == nil {
		ui = &logUI{logger: r.logger}
	}

	synth, err := buildSynth(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("build synthesizer: %w", err)
	}
	var fallback tts.StreamingSpeaker
	if r.cfg.TTS.Fallback.Enabled {
		speaker, err := tts.NewElevenLabsSpeaker(r.cfg.TTS.Fallback, r.opts.Player, r.logger)
		if err != nil {
			r.logger.Warn("fallback speech engine unavailable", slog.String("error", err.Error()))
		} else {
			fallback = speaker
		}
	}
	r.pipeline = speech.NewPipeline(ctx, synth, fallback, r.opts.Player, r.cfg.TTS.Voice, ui, r.logger)

	recognizer, err := buildRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("build recognizer: %w", err)
	}

	var feed orchestrator.SpeechFeed = r.pipeline
	if !r.cfg.Speech.Enabled {
		// Replies stay text-only; the pipeline sits idle.
		feed = nopSpeech{}
	}

	r.orch = orchestrator.New(ctx, r.cfg, orchestrator.Deps{
		Capture: r.opts.Capture,
		STT:     recognizer,
		Speech:  feed,
		History: store,
		UI:      ui,
	}, r.logger)

	r.client = gateway.NewClient(ctx, r.cfg.Gateway, id, r.orch, r.logger)
	r.orch.AttachClient(r.client)
	if err := r.client.Connect(); err != nil {
		r.logger.Warn("initial connect failed", slog.String("error", err.Error()))
	}

	if r.cfg.Gesture.Enabled {
		r.talk = gesture.NewDetector(r.cfg.Gesture, talkHandler{orch: r.orch}, r.logger)
		r.toggle = gesture.NewDetector(r.cfg.Gesture, toggleHandler{orch: r.orch}, r.logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
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
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.pipeline.Cancel()
	r.orch.Close()
	r.client.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildSynth(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	}
}

func buildRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return stt.NewExecRecognizer(cfg)
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type talkHandler struct {
	orch *orchestrator.Orchestrator
}

// Capture failures surface through the UI callbacks.
func (h talkHandler) HoldStarted() {
	_ = h.orch.Start()
}

func (h talkHandler) HoldReleased() {
	_ = h.orch.Stop()
}

type toggleHandler struct {
	orch *orchestrator.Orchestrator
}

func (h toggleHandler) HoldStarted() {
	_ = h.orch.Toggle()
}

func (h toggleHandler) HoldReleased() {}

type nopSpeech struct{}

func (nopSpeech) FeedDelta(string) {}
func (nopSpeech) FeedFinal(string) {}
func (nopSpeech) Cancel()          {}
