package runtime

import (
	"log/slog"

	"github.com/murmurlabs/murmur-core/internal/gateway"
)

// logUI is the headless default UI: every callback becomes a log line.
type logUI struct {
	logger *slog.Logger
}

func (u *logUI) RecordingStarted() {
	u.logger.Info("recording started")
}

func (u *logUI) RecordingLevel(dbfs float64) {
	u.logger.Debug("recording level", slog.Float64("dbfs", dbfs))
}

func (u *logUI) RecordingFinished() {
	u.logger.Info("recording finished")
}

func (u *logUI) RecordingDiscarded(reason string) {
	u.logger.Info("recording discarded", slog.String("reason", reason))
}

func (u *logUI) TranscriptReady(text string) {
	u.logger.Info("transcript ready", slog.String("text", text))
}

func (u *logUI) TranscriptionFailed(message string) {
	u.logger.Warn("transcription failed", slog.String("message", message))
}

func (u *logUI) ConnectivityFailed(message string) {
	u.logger.Warn("connectivity failed", slog.String("message", message))
}

func (u *logUI) ResponseDelta(text string) {
	u.logger.Debug("response delta", slog.Int("chars", len(text)))
}

func (u *logUI) ResponseFinal(text string) {
	u.logger.Info("response final", slog.String("text", text))
}

func (u *logUI) ResponseFailed(message string) {
	u.logger.Warn("response failed", slog.String("message", message))
}

func (u *logUI) ResponseAborted(partial string) {
	u.logger.Info("response aborted", slog.Int("partial_chars", len(partial)))
}

func (u *logUI) ConnectionChanged(st gateway.Status) {
	u.logger.Info("connection status",
		slog.Bool("connected", st.Connected),
		slog.Bool("authenticated", st.Authenticated),
		slog.Bool("pending_pairing", st.PendingPairing))
}

func (u *logUI) SpeechStarted() {
	u.logger.Info("speech started")
}

func (u *logUI) SpeechFinished() {
	u.logger.Info("speech finished")
}
