package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/voicebridge/pkg/dialog/session"
	"github.com/vango-go/voicebridge/pkg/dialog/sessions"
	"github.com/vango-go/voicebridge/pkg/gateway/apierror"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/metrics"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
)

// sessionRequest is the optional JSON body accepted by session create and
// start. Absent fields fall back to the gateway defaults.
type sessionRequest struct {
	Speaker           *string `json:"speaker"`
	BotName           *string `json:"botName"`
	SystemRole        *string `json:"systemRole"`
	SpeakingStyle     *string `json:"speakingStyle"`
	Model             *string `json:"model"`
	EnableWebSearch   *bool   `json:"enableWebSearch"`
	EndSmoothWindowMS *int    `json:"endSmoothWindowMs"`
	TTSSampleRate     *int    `json:"ttsSampleRate"`
	AudioFormat       *string `json:"audioFormat"`
	StrictAudit       *bool   `json:"strictAudit"`
}

// mergeInto overlays the request's set fields onto base.
func (req *sessionRequest) mergeInto(base *session.Config) *session.Config {
	if req == nil {
		return base
	}
	cfg := *base
	if req.Speaker != nil {
		cfg.Speaker = *req.Speaker
	}
	if req.BotName != nil {
		cfg.BotName = *req.BotName
	}
	if req.SystemRole != nil {
		cfg.SystemRole = *req.SystemRole
	}
	if req.SpeakingStyle != nil {
		cfg.SpeakingStyle = *req.SpeakingStyle
	}
	if req.Model != nil {
		cfg.Model = *req.Model
	}
	if req.EnableWebSearch != nil {
		cfg.EnableWebSearch = *req.EnableWebSearch
	}
	if req.EndSmoothWindowMS != nil {
		cfg.EndSmoothWindowMS = *req.EndSmoothWindowMS
	}
	if req.TTSSampleRate != nil {
		cfg.TTSSampleRate = *req.TTSSampleRate
	}
	if req.AudioFormat != nil {
		cfg.AudioFormat = *req.AudioFormat
	}
	if req.StrictAudit != nil {
		cfg.StrictAudit = *req.StrictAudit
	}
	return &cfg
}

type textRequest struct {
	Text       string `json:"text"`
	QuestionID string `json:"questionId"`
}

// SessionsHandler is the REST controller for the session registry.
type SessionsHandler struct {
	Config   config.Config
	Registry *sessions.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Create mints a session and connects it upstream.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	s, err := h.Registry.Create()
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.SessionsCreated.Inc()
		h.Metrics.SessionsActive.Set(float64(h.Registry.Count()))
	}
	s.Connect()
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// List returns snapshots of all registered sessions.
func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.Registry.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": snaps,
		"count":    len(snaps),
	})
}

// Get returns one session snapshot.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	s, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Start begins the spoken dialogue on a connected session. The optional
// body overrides the configured defaults.
func (h SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	s, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}

	var req *sessionRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "failed to read request body", RequestID: reqID,
		})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		req = &sessionRequest{}
		if err := json.Unmarshal(body, req); err != nil {
			writeErrorJSON(w, http.StatusBadRequest, &apierror.Error{
				Type: apierror.ErrInvalidRequest, Message: "invalid json body", RequestID: reqID,
			})
			return
		}
	}

	cfg := req.mergeInto(h.Config.DefaultSessionConfig())
	if err := s.Start(cfg); err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Text submits a typed query into an active session.
func (h SessionsHandler) Text(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	s, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}

	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "invalid json body", RequestID: reqID,
		})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeErrorJSON(w, http.StatusBadRequest, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "text is required", Param: "text", RequestID: reqID,
		})
		return
	}

	if err := s.SendText(req.Text, req.QuestionID); err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

// End finishes the spoken dialogue but keeps the connection for reuse.
func (h SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	s, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	if err := s.End(); err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Disconnect tears down the upstream connection without deregistering.
func (h SessionsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	s, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, reqID, err)
		return
	}
	s.Disconnect()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Delete shuts the session down and removes it from the registry.
func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.Registry.Remove(id)
	if h.Metrics != nil {
		h.Metrics.SessionsActive.Set(float64(h.Registry.Count()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status reports registry occupancy.
func (h SessionsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"activeSessions": h.Registry.Count(),
		"maxSessions":    h.Config.MaxSessions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, apiErr *apierror.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: apiErr})
}

// writeAPIError maps internal errors onto the shared envelope shape.
func writeAPIError(w http.ResponseWriter, reqID string, err error) {
	apiErr, status := apierror.FromError(err, reqID)
	writeErrorJSON(w, status, apiErr)
}
