package handlers

import (
	"net/http"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		AuthMode string   `json:"auth_mode"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	if h.Config.UpstreamURL == "" {
		issues = append(issues, "upstream url is not configured")
	}
	if h.Config.AppID == "" || h.Config.AccessKey == "" {
		issues = append(issues, "upstream credentials are not configured")
	}
	if h.Config.MaxSessions <= 0 {
		issues = append(issues, "max sessions must be > 0")
	}
	if h.Config.SessionIdleTimeout <= 0 || h.Config.SweepInterval <= 0 {
		issues = append(issues, "sweep settings must be > 0")
	}
	if h.Config.InitialReconnectDelay <= 0 || h.Config.MaxReconnectDelay < h.Config.InitialReconnectDelay {
		issues = append(issues, "reconnect delays are inconsistent")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:       ok,
		AuthMode: string(h.Config.AuthMode),
		Issues:   issues,
	})
}
