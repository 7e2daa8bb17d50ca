package session

// Config carries the per-session dialogue parameters forwarded to the remote
// service when a session starts. Zero values fall back to the service
// defaults below.
type Config struct {
	// Speech recognition.
	EndSmoothWindowMS int  `json:"endSmoothWindowMs,omitempty"`
	EnableCustomVAD   bool `json:"enableCustomVad,omitempty"`

	// Synthesis.
	Speaker       string `json:"speaker,omitempty"`
	TTSSampleRate int    `json:"ttsSampleRate,omitempty"`
	AudioFormat   string `json:"audioFormat,omitempty"`
	Channels      int    `json:"channels,omitempty"`

	// Dialogue.
	BotName         string `json:"botName,omitempty"`
	SystemRole      string `json:"systemRole,omitempty"`
	SpeakingStyle   string `json:"speakingStyle,omitempty"`
	Model           string `json:"model,omitempty"`
	EnableWebSearch bool   `json:"enableWebSearch,omitempty"`
	RecvTimeoutS    int    `json:"recvTimeout,omitempty"`
	StrictAudit     bool   `json:"strictAudit,omitempty"`
}

// DefaultConfig returns the service-default dialogue parameters.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.EndSmoothWindowMS <= 0 {
		c.EndSmoothWindowMS = 1500
	}
	if c.Speaker == "" {
		c.Speaker = "zh_female_vv_jupiter_bigtts"
	}
	if c.TTSSampleRate <= 0 {
		c.TTSSampleRate = 24000
	}
	if c.AudioFormat == "" {
		c.AudioFormat = "pcm"
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BotName == "" {
		c.BotName = "豆包"
	}
	if c.Model == "" {
		c.Model = "O"
	}
	if c.RecvTimeoutS <= 0 {
		c.RecvTimeoutS = 10
	}
}

// startPayload builds the structured start-session payload. A non-empty
// dialogID asks the service to continue the prior dialogue instead of
// opening a fresh one.
func (c *Config) startPayload(dialogID string) map[string]any {
	cfg := *c
	cfg.applyDefaults()

	asrExtra := map[string]any{
		"end_smooth_window_ms": cfg.EndSmoothWindowMS,
	}
	if cfg.EnableCustomVAD {
		asrExtra["enable_custom_vad"] = true
	}

	dialog := map[string]any{
		"bot_name": cfg.BotName,
	}
	if cfg.SystemRole != "" {
		dialog["system_role"] = cfg.SystemRole
	}
	if cfg.SpeakingStyle != "" {
		dialog["speaking_style"] = cfg.SpeakingStyle
	}
	if dialogID != "" {
		dialog["dialog_id"] = dialogID
	}
	dialogExtra := map[string]any{
		"strict_audit": cfg.StrictAudit,
		"recv_timeout": cfg.RecvTimeoutS,
		"input_mod":    "audio",
		"model":        cfg.Model,
	}
	if cfg.EnableWebSearch {
		dialogExtra["enable_volc_websearch"] = true
	}
	dialog["extra"] = dialogExtra

	return map[string]any{
		"asr": map[string]any{"extra": asrExtra},
		"tts": map[string]any{
			"speaker": cfg.Speaker,
			"audio_config": map[string]any{
				"channel":     cfg.Channels,
				"format":      cfg.AudioFormat,
				"sample_rate": cfg.TTSSampleRate,
			},
		},
		"dialog": dialog,
	}
}
