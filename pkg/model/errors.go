package model

import (
	"errors"
	"net/http"
)

// UpstreamError normalizes failures reported by a generative-AI service so
// that the HTTP layer can pass the upstream status and code through.
type UpstreamError struct {
	Provider  string
	Code      string
	Status    int
	RequestID string
	Message   string
	Err       error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "upstream request failed"
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status, or 500 when none was reported.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// AsUpstream extracts an UpstreamError from err's chain.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
