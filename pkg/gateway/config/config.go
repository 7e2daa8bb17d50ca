package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/voicebridge/pkg/dialog/client"
	"github.com/vango-go/voicebridge/pkg/dialog/session"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Upstream realtime-dialogue service.
	UpstreamURL string
	AppID       string
	AccessKey   string
	ResourceID  string
	AppKey      string

	// Upstream reconnect and health probing.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int
	HealthCheckInterval   time.Duration
	ConnIdleTimeout       time.Duration
	RequestTimeout        time.Duration
	HandshakeTimeout      time.Duration

	// Session registry.
	MaxSessions        int
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration

	// Session defaults applied when a caller omits them.
	DefaultSpeaker           string
	DefaultBotName           string
	DefaultSystemRole        string
	DefaultSpeakingStyle     string
	DefaultModel             string
	DefaultEndSmoothWindowMS int
	DefaultTTSSampleRate     int
	DefaultAudioFormat       string
	DefaultChannels          int
	EnableWebSearch          bool
	RecvTimeoutSeconds       int
	StrictAudit              bool

	// Client-facing websocket relay.
	RelayMaxMessageBytes int64
	RelayWriteTimeout    time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Logging
	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOICE_ADDR", ":8080"),
		AuthMode:              AuthMode(envOr("VOICE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:               make(map[string]struct{}),
		CORSAllowedOrigins:    make(map[string]struct{}),
		UpstreamURL:           envOr("VOICE_WS_URL", "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"),
		AppID:                 strings.TrimSpace(os.Getenv("VOICE_APP_ID")),
		AccessKey:             strings.TrimSpace(os.Getenv("VOICE_ACCESS_KEY")),
		ResourceID:            envOr("VOICE_RESOURCE_ID", "volc.speech.dialog"),
		AppKey:                envOr("VOICE_APP_KEY", "PlgvMymc7f3tQnJ6"),
		InitialReconnectDelay: envDurationOr("VOICE_RECONNECT_INITIAL_DELAY", time.Second),
		MaxReconnectDelay:     envDurationOr("VOICE_RECONNECT_MAX_DELAY", 30*time.Second),
		MaxReconnectAttempts:  envIntOr("VOICE_RECONNECT_MAX_ATTEMPTS", 5),
		HealthCheckInterval:   envDurationOr("VOICE_HEALTH_CHECK_INTERVAL", 10*time.Second),
		ConnIdleTimeout:       envDurationOr("VOICE_CONN_IDLE_TIMEOUT", 90*time.Second),
		RequestTimeout:        envDurationOr("VOICE_REQUEST_TIMEOUT", 30*time.Second),
		HandshakeTimeout:      envDurationOr("VOICE_HANDSHAKE_TIMEOUT", 10*time.Second),
		MaxSessions:           envIntOr("VOICE_MAX_SESSIONS", 100),
		SessionIdleTimeout:    envDurationOr("VOICE_SESSION_IDLE_TIMEOUT", 5*time.Minute),
		SweepInterval:         envDurationOr("VOICE_SWEEP_INTERVAL", time.Minute),

		DefaultSpeaker:           envOr("VOICE_DEFAULT_SPEAKER", "zh_female_vv_jupiter_bigtts"),
		DefaultBotName:           envOr("VOICE_DEFAULT_BOT_NAME", "豆包"),
		DefaultSystemRole:        strings.TrimSpace(os.Getenv("VOICE_DEFAULT_SYSTEM_ROLE")),
		DefaultSpeakingStyle:     strings.TrimSpace(os.Getenv("VOICE_DEFAULT_SPEAKING_STYLE")),
		DefaultModel:             envOr("VOICE_DEFAULT_MODEL", "O"),
		DefaultEndSmoothWindowMS: envIntOr("VOICE_END_SMOOTH_WINDOW_MS", 1500),
		DefaultTTSSampleRate:     envIntOr("VOICE_TTS_SAMPLE_RATE", 24000),
		DefaultAudioFormat:       envOr("VOICE_AUDIO_FORMAT", "pcm"),
		DefaultChannels:          envIntOr("VOICE_TTS_CHANNELS", 1),
		EnableWebSearch:          envBoolOr("VOICE_ENABLE_WEB_SEARCH", false),
		RecvTimeoutSeconds:       envIntOr("VOICE_RECV_TIMEOUT_SECONDS", 10),
		StrictAudit:              envBoolOr("VOICE_STRICT_AUDIT", false),

		RelayMaxMessageBytes: envInt64Or("VOICE_RELAY_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		RelayWriteTimeout:    envDurationOr("VOICE_RELAY_WRITE_TIMEOUT", 5*time.Second),

		ReadHeaderTimeout:   envDurationOr("VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),

		LogLevel:  envOr("VOICE_LOG_LEVEL", "info"),
		LogFormat: envOr("VOICE_LOG_FORMAT", "text"),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOICE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VOICE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOICE_API_KEYS must be set when VOICE_AUTH_MODE=required")
	}
	if cfg.AppID == "" {
		return Config{}, fmt.Errorf("VOICE_APP_ID must be set")
	}
	if cfg.AccessKey == "" {
		return Config{}, fmt.Errorf("VOICE_ACCESS_KEY must be set")
	}
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return Config{}, fmt.Errorf("VOICE_WS_URL must not be empty")
	}
	if cfg.InitialReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("VOICE_RECONNECT_INITIAL_DELAY must be > 0")
	}
	if cfg.MaxReconnectDelay < cfg.InitialReconnectDelay {
		return Config{}, fmt.Errorf("VOICE_RECONNECT_MAX_DELAY must be >= VOICE_RECONNECT_INITIAL_DELAY")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return Config{}, fmt.Errorf("VOICE_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.HealthCheckInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_HEALTH_CHECK_INTERVAL must be > 0")
	}
	if cfg.ConnIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_CONN_IDLE_TIMEOUT must be > 0")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_SESSIONS must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.RelayMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICE_RELAY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.RelayWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_RELAY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOICE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VOICE_LOG_FORMAT must be text or json")
	}

	return cfg, nil
}

// NewLogger builds the process logger per the configured level and format.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ClientOptions builds the upstream client configuration sessions are
// created with.
func (c Config) ClientOptions(logger *slog.Logger) client.Options {
	return client.Options{
		URL:                   c.UpstreamURL,
		AppID:                 c.AppID,
		AccessKey:             c.AccessKey,
		ResourceID:            c.ResourceID,
		AppKey:                c.AppKey,
		InitialReconnectDelay: c.InitialReconnectDelay,
		MaxReconnectDelay:     c.MaxReconnectDelay,
		MaxReconnectAttempts:  c.MaxReconnectAttempts,
		HealthCheckInterval:   c.HealthCheckInterval,
		IdleTimeout:           c.ConnIdleTimeout,
		RequestTimeout:        c.RequestTimeout,
		HandshakeTimeout:      c.HandshakeTimeout,
		Logger:                logger,
	}
}

// DefaultSessionConfig builds the dialogue defaults applied when a caller
// starts a session without overriding them.
func (c Config) DefaultSessionConfig() *session.Config {
	return &session.Config{
		EndSmoothWindowMS: c.DefaultEndSmoothWindowMS,
		Speaker:           c.DefaultSpeaker,
		TTSSampleRate:     c.DefaultTTSSampleRate,
		AudioFormat:       c.DefaultAudioFormat,
		Channels:          c.DefaultChannels,
		BotName:           c.DefaultBotName,
		SystemRole:        c.DefaultSystemRole,
		SpeakingStyle:     c.DefaultSpeakingStyle,
		Model:             c.DefaultModel,
		EnableWebSearch:   c.EnableWebSearch,
		RecvTimeoutS:      c.RecvTimeoutSeconds,
		StrictAudit:       c.StrictAudit,
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
