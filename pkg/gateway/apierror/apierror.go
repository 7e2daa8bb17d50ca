package apierror

import (
	"errors"
	"net/http"

	"github.com/vango-go/voicebridge/pkg/dialog/client"
	"github.com/vango-go/voicebridge/pkg/dialog/protocol"
	"github.com/vango-go/voicebridge/pkg/dialog/session"
	"github.com/vango-go/voicebridge/pkg/dialog/sessions"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrCapacity       ErrorType = "capacity_error"
	ErrState          ErrorType = "state_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrAPI            ErrorType = "api_error"
)

type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string { return string(e.Type) + ": " + e.Message }

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps an internal error to its wire representation and HTTP
// status. Unknown errors are reported as opaque internal errors.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(out.Type)
	}

	if errors.Is(err, sessions.ErrNotFound) {
		return &Error{
			Type:      ErrNotFound,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusNotFound
	}
	if errors.Is(err, sessions.ErrCapacityExceeded) {
		return &Error{
			Type:      ErrCapacity,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusTooManyRequests
	}

	var stateErr *session.InvalidStateError
	if errors.As(err, &stateErr) {
		return &Error{
			Type:      ErrState,
			Message:   stateErr.Error(),
			RequestID: requestID,
		}, http.StatusConflict
	}

	if errors.Is(err, client.ErrNotConnected) || errors.Is(err, client.ErrConnectionNotStarted) {
		return &Error{
			Type:      ErrUpstream,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	var encodeErr *protocol.EncodeError
	if errors.As(err, &encodeErr) {
		return &Error{
			Type:      ErrAPI,
			Message:   "frame encoding failed",
			RequestID: requestID,
		}, http.StatusInternalServerError
	}

	// Unknown errors: do not leak details.
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrCapacity:
		return http.StatusTooManyRequests
	case ErrState:
		return http.StatusConflict
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
