package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	dur := audio.Duration(len(samples), sampleRate).Round(10 * time.Millisecond)
	return fmt.Sprintf("[mock transcript duration=%s]", dur), nil
}
