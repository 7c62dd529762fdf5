package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel         string  `yaml:"log_level"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
	PrometheusBind   string  `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Identity    IdentityConfig  `yaml:"identity"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Recording   RecordingConfig `yaml:"recording"`
	STT         STTConfig       `yaml:"stt"`
	TTS         TTSConfig       `yaml:"tts"`
	Speech      SpeechConfig    `yaml:"speech"`
	Gesture     GestureConfig   `yaml:"gesture"`
	History     HistoryConfig   `yaml:"history"`
}

type IdentityConfig struct {
	KeyPath string `yaml:"key_path"`
}

type GatewayConfig struct {
	URL                string   `yaml:"url"`
	Token              string   `yaml:"token"`
	Password           string   `yaml:"password"`
	ClientID           string   `yaml:"client_id"`
	ClientMode         string   `yaml:"client_mode"`
	Role               string   `yaml:"role"`
	Scopes             []string `yaml:"scopes"`
	ConnectTimeoutMS   int      `yaml:"connect_timeout_ms"`
	MaxReconnects      int      `yaml:"max_reconnects"`
	PairingRetryMS     int      `yaml:"pairing_retry_ms"`
	MaxPairingAttempts int      `yaml:"max_pairing_attempts"`
	AuthWaitMS         int      `yaml:"auth_wait_ms"`
}

type RecordingConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	MaxDurationS    int     `yaml:"max_duration_s"`
	MinDurationMS   int     `yaml:"min_duration_ms"`
	MinLevelDBFS    float64 `yaml:"min_level_dbfs"`
	PadToMS         int     `yaml:"pad_to_ms"`
	LevelIntervalMS int     `yaml:"level_interval_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type TTSConfig struct {
	Mode       string         `yaml:"mode"` // mock, exec
	Command    string         `yaml:"command"`
	Voice      string         `yaml:"voice"`
	SampleRate int            `yaml:"sample_rate"`
	Channels   int            `yaml:"channels"`
	Fallback   FallbackConfig `yaml:"fallback"`
}

type FallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
}

type SpeechConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GestureConfig struct {
	Enabled      bool `yaml:"enabled"`
	TapWindowMS  int  `yaml:"tap_window_ms"`
	HoldWindowMS int  `yaml:"hold_window_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			TraceSampleRatio: 1.0,
			PrometheusBind:   ":9092",
		},
		Identity: IdentityConfig{
			KeyPath: "./data/device.key",
		},
		Gateway: GatewayConfig{
			URL:                "ws://localhost:9400/ws",
			ClientID:           "murmur-desktop",
			ClientMode:         "assistant",
			Role:               "client",
			Scopes:             []string{"chat"},
			ConnectTimeoutMS:   10000,
			MaxReconnects:      8,
			PairingRetryMS:     5000,
			MaxPairingAttempts: 60,
			AuthWaitMS:         8000,
		},
		Recording: RecordingConfig{
			SampleRate:      16000,
			MaxDurationS:    300,
			MinDurationMS:   300,
			MinLevelDBFS:    -55,
			PadToMS:         1500,
			LevelIntervalMS: 100,
		},
		STT: STTConfig{
			Mode: "mock",
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			Fallback: FallbackConfig{
				BaseURL: "https://api.elevenlabs.io/v1",
				ModelID: "eleven_multilingual_v2",
			},
		},
		Speech: SpeechConfig{
			Enabled: true,
		},
		Gesture: GestureConfig{
			Enabled:      true,
			TapWindowMS:  300,
			HoldWindowMS: 400,
		},
		History: HistoryConfig{
			Path:       "./data/murmur-history.db",
			MaxEntries: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "MURMUR_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Identity.KeyPath, "MURMUR_IDENTITY_KEY_PATH")
	overrideString(&cfg.Gateway.URL, "MURMUR_GATEWAY_URL")
	overrideString(&cfg.Gateway.Token, "MURMUR_GATEWAY_TOKEN")
	overrideString(&cfg.Gateway.Password, "MURMUR_GATEWAY_PASSWORD")
	overrideString(&cfg.Gateway.ClientID, "MURMUR_GATEWAY_CLIENT_ID")
	overrideString(&cfg.Gateway.ClientMode, "MURMUR_GATEWAY_CLIENT_MODE")
	overrideString(&cfg.Gateway.Role, "MURMUR_GATEWAY_ROLE")
	overrideStringSlice(&cfg.Gateway.Scopes, "MURMUR_GATEWAY_SCOPES")
	overrideInt(&cfg.Gateway.ConnectTimeoutMS, "MURMUR_GATEWAY_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Gateway.MaxReconnects, "MURMUR_GATEWAY_MAX_RECONNECTS")
	overrideInt(&cfg.Gateway.PairingRetryMS, "MURMUR_GATEWAY_PAIRING_RETRY_MS")
	overrideInt(&cfg.Gateway.MaxPairingAttempts, "MURMUR_GATEWAY_MAX_PAIRING_ATTEMPTS")
	overrideInt(&cfg.Gateway.AuthWaitMS, "MURMUR_GATEWAY_AUTH_WAIT_MS")
	overrideInt(&cfg.Recording.SampleRate, "MURMUR_RECORDING_SAMPLE_RATE")
	overrideInt(&cfg.Recording.MaxDurationS, "MURMUR_RECORDING_MAX_DURATION_S")
	overrideInt(&cfg.Recording.MinDurationMS, "MURMUR_RECORDING_MIN_DURATION_MS")
	overrideFloat(&cfg.Recording.MinLevelDBFS, "MURMUR_RECORDING_MIN_LEVEL_DBFS")
	overrideInt(&cfg.Recording.PadToMS, "MURMUR_RECORDING_PAD_TO_MS")
	overrideInt(&cfg.Recording.LevelIntervalMS, "MURMUR_RECORDING_LEVEL_INTERVAL_MS")
	overrideString(&cfg.STT.Mode, "MURMUR_STT_MODE")
	overrideString(&cfg.STT.Command, "MURMUR_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "MURMUR_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "MURMUR_STT_LANGUAGE")
	overrideString(&cfg.TTS.Mode, "MURMUR_TTS_MODE")
	overrideString(&cfg.TTS.Command, "MURMUR_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "MURMUR_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "MURMUR_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "MURMUR_TTS_CHANNELS")
	overrideBool(&cfg.TTS.Fallback.Enabled, "MURMUR_TTS_FALLBACK_ENABLED")
	overrideString(&cfg.TTS.Fallback.BaseURL, "MURMUR_TTS_FALLBACK_BASE_URL")
	overrideString(&cfg.TTS.Fallback.APIKey, "MURMUR_TTS_FALLBACK_API_KEY")
	overrideString(&cfg.TTS.Fallback.VoiceID, "MURMUR_TTS_FALLBACK_VOICE_ID")
	overrideString(&cfg.TTS.Fallback.ModelID, "MURMUR_TTS_FALLBACK_MODEL_ID")
	overrideBool(&cfg.Speech.Enabled, "MURMUR_SPEECH_ENABLED")
	overrideBool(&cfg.Gesture.Enabled, "MURMUR_GESTURE_ENABLED")
	overrideInt(&cfg.Gesture.TapWindowMS, "MURMUR_GESTURE_TAP_WINDOW_MS")
	overrideInt(&cfg.Gesture.HoldWindowMS, "MURMUR_GESTURE_HOLD_WINDOW_MS")
	overrideString(&cfg.History.Path, "MURMUR_HISTORY_PATH")
	overrideInt(&cfg.History.MaxEntries, "MURMUR_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "MURMUR_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Identity.KeyPath == "" {
		return errors.New("identity.key_path must not be empty")
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url must not be empty")
	}
	if !strings.HasPrefix(cfg.Gateway.URL, "ws://") && !strings.HasPrefix(cfg.Gateway.URL, "wss://") {
		return errors.New("gateway.url must use the ws or wss scheme")
	}
	if cfg.Gateway.ClientID == "" {
		return errors.New("gateway.client_id must not be empty")
	}
	if len(cfg.Gateway.Scopes) == 0 {
		return errors.New("gateway.scopes must not be empty")
	}
	if cfg.Gateway.MaxReconnects <= 0 {
		return errors.New("gateway.max_reconnects must be positive")
	}
	if cfg.Gateway.PairingRetryMS <= 0 {
		return errors.New("gateway.pairing_retry_ms must be positive")
	}
	if cfg.Gateway.MaxPairingAttempts <= 0 {
		return errors.New("gateway.max_pairing_attempts must be positive")
	}
	if cfg.Recording.SampleRate <= 0 {
		return errors.New("recording.sample_rate must be positive")
	}
	if cfg.Recording.MaxDurationS <= 0 {
		return errors.New("recording.max_duration_s must be positive")
	}
	if cfg.Recording.MinDurationMS < 0 {
		return errors.New("recording.min_duration_ms must be >= 0")
	}
	if cfg.Recording.MinLevelDBFS > 0 {
		return errors.New("recording.min_level_dbfs must be <= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.Fallback.Enabled && cfg.TTS.Fallback.APIKey == "" {
		return errors.New("tts.fallback.api_key must be set when the fallback engine is enabled")
	}
	if cfg.Gesture.Enabled {
		if cfg.Gesture.TapWindowMS <= 0 {
			return errors.New("gesture.tap_window_ms must be positive")
		}
		if cfg.Gesture.HoldWindowMS <= 0 {
			return errors.New("gesture.hold_window_ms must be positive")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.MaxEntries < 0 {
		return errors.New("history.max_entries must be >= 0")
	}
	return nil
}
