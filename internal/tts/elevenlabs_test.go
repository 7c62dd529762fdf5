package tts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

type captivePlayer struct {
	buf bytes.Buffer
}

func (p *captivePlayer) Play(_ context.Context, pcm []byte) error {
	_, err := p.buf.Write(pcm)
	return err
}

func TestElevenLabsSpeakerStreamsToPlayer(t *testing.T) {
	audio := bytes.Repeat([]byte{0x01, 0x02}, 9000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	player := &captivePlayer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	speaker, err := NewElevenLabsSpeaker(config.FallbackConfig{
		BaseURL: srv.URL, APIKey: "key-1", VoiceID: "v1", ModelID: "m1",
	}, player, logger)
	if err != nil {
		t.Fatalf("new speaker: %v", err)
	}

	if err := speaker.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !bytes.Equal(player.buf.Bytes(), audio) {
		t.Fatalf("player received %d bytes, want %d", player.buf.Len(), len(audio))
	}
}

func TestElevenLabsSpeakerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	speaker, err := NewElevenLabsSpeaker(config.FallbackConfig{
		BaseURL: srv.URL, APIKey: "key-1", VoiceID: "v1",
	}, &captivePlayer{}, logger)
	if err != nil {
		t.Fatalf("new speaker: %v", err)
	}
	if err := speaker.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestNewElevenLabsSpeakerRequiresKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewElevenLabsSpeaker(config.FallbackConfig{}, &captivePlayer{}, logger); err == nil {
		t.Fatal("expected error without api key")
	}
}
