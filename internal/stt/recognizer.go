package stt

import (
	"context"
	"errors"
)

// ErrEngineUnavailable reports that the engine cannot serve requests at all.
var ErrEngineUnavailable = errors.New("stt: engine unavailable")

// Recognizer abstracts STT backends. Samples are mono float32 at the given
// rate; an empty transcript with a nil error means the engine heard nothing.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}
