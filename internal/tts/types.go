package tts

import (
	"context"
	"errors"
)

// ErrEngineUnavailable reports that an engine cannot serve requests at all,
// as opposed to failing on one particular sentence.
var ErrEngineUnavailable = errors.New("tts: engine unavailable")

// SynthRequest contains parameters to synthesize one sentence.
type SynthRequest struct {
	Text  string
	Voice string
}

// Synthesizer is the primary, local synthesis contract: one sentence of text
// to one buffer of PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
}

// StreamingSpeaker is the secondary engine: it speaks the text end to end on
// its own (network synthesis streamed straight to playback) and returns when
// playback finishes.
type StreamingSpeaker interface {
	Speak(ctx context.Context, text string) error
}

// Player renders a synthesized PCM buffer to the output device, returning
// once playback completes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}
