package handlers

import (
	"net/http"

	"github.com/vango-go/voicebridge/pkg/gateway/apierror"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeErrorJSON(w, http.StatusNotFound, &apierror.Error{
		Type:      apierror.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}
