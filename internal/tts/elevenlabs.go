package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

const (
	streamChunkSize      = 4096
	streamRequestTimeout = 30 * time.Second
)

// ElevenLabsSpeaker is the secondary, cloud streaming engine. It synthesizes
// over HTTP and feeds the PCM stream to the player chunk by chunk, so speech
// starts before the full response has arrived.
type ElevenLabsSpeaker struct {
	cfg    config.FallbackConfig
	client *http.Client
	player Player
	logger *slog.Logger
}

type elevenLabsRequest struct {
	Text          string                 `json:"text"`
	ModelID       string                 `json:"model_id"`
	VoiceSettings elevenLabsVoiceSetting `json:"voice_settings"`
}

type elevenLabsVoiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewElevenLabsSpeaker(cfg config.FallbackConfig, player Player, logger *slog.Logger) (*ElevenLabsSpeaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fallback api key is required")
	}
	return &ElevenLabsSpeaker{
		cfg:    cfg,
		client: &http.Client{Timeout: streamRequestTimeout},
		player: player,
		logger: logger.With(slog.String("component", "tts-fallback")),
	}, nil
}

func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: elevenLabsVoiceSetting{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_22050", s.cfg.BaseURL, s.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fallback synthesis request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fallback synthesis returned %s: %s", resp.Status, body)
	}

	buf := make([]byte, streamChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := s.player.Play(ctx, buf[:n]); err != nil {
				return fmt.Errorf("fallback playback: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("fallback stream read: %w", readErr)
		}
	}
}
