package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/gateway"
	"github.com/murmurlabs/murmur-core/internal/history"
	"github.com/murmurlabs/murmur-core/internal/stt"
	"github.com/murmurlabs/murmur-core/internal/textproc"
)

type state int

const (
	stateIdle state = iota
	stateRecording
	stateTranscribing
	stateAwaiting
)

// UI receives everything the surrounding application shows the user. All
// callbacks may arrive from background goroutines.
type UI interface {
	RecordingStarted()
	RecordingLevel(dbfs float64)
	RecordingFinished()
	RecordingDiscarded(reason string)
	TranscriptReady(text string)
	TranscriptionFailed(message string)
	ConnectivityFailed(message string)
	ResponseDelta(text string)
	ResponseFinal(text string)
	ResponseFailed(message string)
	ResponseAborted(partial string)
	ConnectionChanged(st gateway.Status)
	SpeechStarted()
	SpeechFinished()
}

// ChatClient is the slice of the gateway client the orchestrator drives.
type ChatClient interface {
	Connect() error
	Authenticated() bool
	AwaitAuthenticated(ctx context.Context) error
	NewTurnKey() string
	SendChat(text, key string) error
	AbortChat(runID string) error
}

// SpeechFeed is the slice of the speech pipeline the orchestrator drives.
type SpeechFeed interface {
	FeedDelta(text string)
	FeedFinal(text string)
	Cancel()
}

// HistorySink persists completed turns.
type HistorySink interface {
	Append(ctx context.Context, e Entry) error
}

// Entry mirrors history.Entry so tests can sink turns without a database.
type Entry = history.Entry

// Deps are the orchestrator's collaborators. The chat client attaches later
// because the gateway needs the orchestrator as its event subscriber first.
type Deps struct {
	Capture audio.CaptureSource
	STT     stt.Recognizer
	Speech  SpeechFeed
	History HistorySink
	UI      UI
}

// Orchestrator owns the voice turn from gesture to spoken reply: one capture
// session at a time, one in-flight chat run at a time. Chat events whose run
// id is not the current turn's are dropped.
type Orchestrator struct {
	cfg      config.RecordingConfig
	authWait time.Duration
	deps     Deps
	logger   *slog.Logger
	meters   meters

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	client         ChatClient
	state          state
	samples        []float32
	sessionCtx     context.Context
	sessionCancel  context.CancelFunc
	lastLevel      time.Time
	currentRunID   string
	lastTranscript string
	response       strings.Builder
}

func New(parent context.Context, cfg config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(parent)
	return &Orchestrator{
		cfg:      cfg.Recording,
		authWait: time.Duration(cfg.Gateway.AuthWaitMS) * time.Millisecond,
		deps:     deps,
		logger:   logger.With(slog.String("component", "orchestrator")),
		meters:   newMeters(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AttachClient wires the gateway client. Must be called before the first
// turn is dispatched.
func (o *Orchestrator) AttachClient(c ChatClient) {
	o.mu.Lock()
	o.client = c
	o.mu.Unlock()
}

// Close cancels any in-flight work.
func (o *Orchestrator) Close() {
	o.Cancel()
	o.cancel()
}

// Start opens a capture session. Ignored when a session or turn is already
// in flight.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state != stateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = stateRecording
	o.samples = o.samples[:0]
	o.lastLevel = time.Time{}
	sessionCtx, sessionCancel := context.WithCancel(o.ctx)
	o.sessionCtx = sessionCtx
	o.sessionCancel = sessionCancel
	o.mu.Unlock()

	if err := o.deps.Capture.Start(sessionCtx, o.cfg.SampleRate, o.deliver); err != nil {
		o.mu.Lock()
		o.state = stateIdle
		o.sessionCtx = nil
		o.sessionCancel = nil
		o.mu.Unlock()
		sessionCancel()
		return err
	}
	if o.meters.turnsStarted != nil {
		o.meters.turnsStarted.Add(o.ctx, 1)
	}
	o.deps.UI.RecordingStarted()
	return nil
}

// deliver accumulates captured samples. Runs on the capture goroutine and
// must not block.
func (o *Orchestrator) deliver(chunk []float32) {
	var level float64
	reportLevel := false
	autoStop := false

	o.mu.Lock()
	if o.state != stateRecording {
		o.mu.Unlock()
		return
	}
	o.samples = append(o.samples, chunk...)

	interval := time.Duration(o.cfg.LevelIntervalMS) * time.Millisecond
	if now := time.Now(); now.Sub(o.lastLevel) >= interval {
		o.lastLevel = now
		level = audio.DBFS(chunk)
		reportLevel = true
	}
	if len(o.samples) >= o.cfg.MaxDurationS*o.cfg.SampleRate {
		autoStop = true
	}
	o.mu.Unlock()

	if reportLevel {
		o.deps.UI.RecordingLevel(level)
	}
	if autoStop {
		o.logger.Info("recording reached maximum duration, stopping")
		go o.Stop()
	}
}

// Stop ends capture, validates the buffer, and hands the audio to
// transcription. The rest of the turn continues on a background goroutine.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != stateRecording {
		o.mu.Unlock()
		return nil
	}
	o.state = stateTranscribing
	samples := o.samples
	o.samples = nil
	// The session context stays alive through transcription; Cancel or
	// Close ends it, a normal stop does not.
	sessionCtx := o.sessionCtx
	if sessionCtx == nil {
		sessionCtx = o.ctx
	}
	o.mu.Unlock()

	if err := o.deps.Capture.Stop(); err != nil {
		o.logger.Warn("capture stop failed", slogError(err))
	}

	go o.finishTurn(sessionCtx, samples)
	return nil
}

func (o *Orchestrator) finishTurn(ctx context.Context, samples []float32) {
	if reason, ok := o.validate(samples); !ok {
		o.toIdle()
		o.deps.UI.RecordingDiscarded(reason)
		return
	}

	rate := o.cfg.SampleRate
	padTo := time.Duration(o.cfg.PadToMS) * time.Millisecond
	samples = audio.PadSilence(samples, rate, padTo)
	o.deps.UI.RecordingFinished()

	text, err := o.deps.STT.Transcribe(ctx, samples, rate)
	if o.turnCancelled() {
		return
	}
	if err != nil {
		o.toIdle()
		o.logger.Warn("transcription failed", slogError(err))
		o.countFailed()
		o.deps.UI.TranscriptionFailed(err.Error())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.toIdle()
		o.countFailed()
		o.deps.UI.TranscriptionFailed("empty transcript")
		return
	}

	o.mu.Lock()
	o.lastTranscript = text
	client := o.client
	o.mu.Unlock()
	o.deps.UI.TranscriptReady(text)

	if client == nil {
		o.toIdle()
		o.countFailed()
		o.deps.UI.ConnectivityFailed("no connection configured")
		return
	}

	if !client.Authenticated() {
		if err := client.Connect(); err != nil {
			o.toIdle()
			o.countFailed()
			o.deps.UI.ConnectivityFailed(err.Error())
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, o.authWait)
		err := client.AwaitAuthenticated(waitCtx)
		cancel()
		if o.turnCancelled() {
			return
		}
		if err != nil {
			o.toIdle()
			o.countFailed()
			o.deps.UI.ConnectivityFailed("not authenticated in time")
			return
		}
	}

	// The run id is registered before the frame goes out so that a delta
	// racing the send is attributed to this turn instead of dropped.
	key := client.NewTurnKey()
	o.mu.Lock()
	cancel := o.sessionCancel
	o.sessionCancel = nil
	o.sessionCtx = nil
	dispatch := o.state == stateTranscribing
	if dispatch {
		o.state = stateAwaiting
		o.currentRunID = key
		o.response.Reset()
	}
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !dispatch {
		return
	}

	if err := client.SendChat(text, key); err != nil {
		o.mu.Lock()
		if o.currentRunID == key {
			o.currentRunID = ""
			o.state = stateIdle
		}
		o.mu.Unlock()
		o.countFailed()
		o.deps.UI.ConnectivityFailed(err.Error())
	}
}

func (o *Orchestrator) validate(samples []float32) (string, bool) {
	if len(samples) == 0 {
		return "cancelled", false
	}
	minDuration := time.Duration(o.cfg.MinDurationMS) * time.Millisecond
	if audio.Duration(len(samples), o.cfg.SampleRate) < minDuration {
		return "too short", false
	}
	if audio.DBFS(samples) < o.cfg.MinLevelDBFS {
		return "too quiet", false
	}
	return "", true
}

// Cancel abandons whatever phase the turn is in. Recording and transcription
// are discarded silently; an in-flight chat run is aborted remotely and the
// speech pipeline stopped.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	st := o.state
	runID := o.currentRunID
	sessionCancel := o.sessionCancel
	o.state = stateIdle
	o.currentRunID = ""
	o.sessionCtx = nil
	o.sessionCancel = nil
	o.samples = nil
	client := o.client
	o.mu.Unlock()

	if sessionCancel != nil {
		sessionCancel()
	}

	switch st {
	case stateRecording:
		if err := o.deps.Capture.Stop(); err != nil {
			o.logger.Warn("capture stop failed", slogError(err))
		}
		o.deps.UI.RecordingDiscarded("cancelled")
	case stateTranscribing:
		o.deps.UI.RecordingDiscarded("cancelled")
	case stateAwaiting:
		if client != nil && runID != "" {
			if err := client.AbortChat(runID); err != nil {
				o.logger.Warn("abort request failed", slogError(err))
			}
		}
		o.deps.Speech.Cancel()
		o.deps.UI.ResponseAborted("")
	}
}

// Toggle is the single entry point for a toggle-style trigger: start when
// idle, stop when recording, cancel anything else.
func (o *Orchestrator) Toggle() error {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()

	switch st {
	case stateIdle:
		return o.Start()
	case stateRecording:
		return o.Stop()
	default:
		o.Cancel()
		return nil
	}
}

func (o *Orchestrator) toIdle() {
	o.mu.Lock()
	cancel := o.sessionCancel
	o.sessionCancel = nil
	o.sessionCtx = nil
	o.state = stateIdle
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) turnCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != stateTranscribing
}

// gateway.Events implementation. The gateway read loop delivers these.

func (o *Orchestrator) Connected() {
	o.logger.Info("gateway authenticated")
}

func (o *Orchestrator) Disconnected(err error) {
	o.mu.Lock()
	interrupted := o.state == stateAwaiting && o.currentRunID != ""
	o.currentRunID = ""
	if interrupted {
		o.state = stateIdle
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("gateway disconnected", slogError(err))
	}
	if interrupted {
		// The run's events will not resume on a new connection.
		o.deps.Speech.Cancel()
		o.deps.UI.ResponseFailed("connection lost")
	}
}

func (o *Orchestrator) StatusChanged(st gateway.Status) {
	o.deps.UI.ConnectionChanged(st)
}

func (o *Orchestrator) ChatDelta(runID, text string, seq int) {
	o.mu.Lock()
	if o.state != stateAwaiting || runID != o.currentRunID {
		o.mu.Unlock()
		return
	}
	o.response.WriteString(text)
	full := o.response.String()
	o.mu.Unlock()

	o.deps.UI.ResponseDelta(textproc.Filter(full))
	o.deps.Speech.FeedDelta(textproc.FilterForTTS(full))
}

func (o *Orchestrator) ChatFinal(runID, text string, seq int) {
	o.mu.Lock()
	if o.state != stateAwaiting || runID != o.currentRunID {
		o.mu.Unlock()
		return
	}
	full := o.response.String()
	if text != "" {
		full = text
	}
	transcript := o.lastTranscript
	o.currentRunID = ""
	o.state = stateIdle
	o.response.Reset()
	o.mu.Unlock()

	if o.meters.turnsCompleted != nil {
		o.meters.turnsCompleted.Add(o.ctx, 1)
	}
	answer := textproc.Filter(full)
	o.deps.UI.ResponseFinal(answer)
	o.deps.Speech.FeedFinal(textproc.FilterForTTS(full))

	if err := o.deps.History.Append(o.ctx, Entry{
		RunID:      runID,
		Transcript: transcript,
		Response:   answer,
	}); err != nil {
		o.logger.Warn("history append failed", slogError(err))
	}
}

func (o *Orchestrator) ChatError(runID, message string) {
	if !o.clearRun(runID) {
		return
	}
	o.countFailed()
	o.deps.Speech.Cancel()
	o.deps.UI.ResponseFailed(message)
}

func (o *Orchestrator) ChatAborted(runID, partial string) {
	if !o.clearRun(runID) {
		return
	}
	o.deps.Speech.Cancel()
	o.deps.UI.ResponseAborted(textproc.Filter(partial))
}

func (o *Orchestrator) clearRun(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateAwaiting || runID != o.currentRunID {
		return false
	}
	o.currentRunID = ""
	o.state = stateIdle
	o.response.Reset()
	return true
}

func (o *Orchestrator) countFailed() {
	if o.meters.turnsFailed != nil {
		o.meters.turnsFailed.Add(o.ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
