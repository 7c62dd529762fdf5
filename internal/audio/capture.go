package audio

import "context"

// CaptureSource abstracts the OS microphone. Implementations deliver mono
// float32 samples at the requested rate via the callback; the callback must
// not block. Device enumeration and selection live outside this module.
type CaptureSource interface {
	Start(ctx context.Context, sampleRate int, deliver func(samples []float32)) error
	Stop() error
}

// NullSource is a CaptureSource that never delivers samples. Used when the
// daemon runs without a microphone host wired in.
type NullSource struct{}

func (NullSource) Start(context.Context, int, func([]float32)) error { return nil }

func (NullSource) Stop() error { return nil }
