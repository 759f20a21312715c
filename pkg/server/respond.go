package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/logging"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/validate"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Status    int              `json:"status"`
	RequestID string           `json:"requestId,omitempty"`
	Issues    []validate.Issue `json:"issues,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// httpError is a failure the handlers classify themselves.
type httpError struct {
	status int
	code   string
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, code: "BadRequest", msg: fmt.Sprintf(format, args...)}
}

func notImplemented(what string) error {
	return &httpError{status: http.StatusNotImplemented, code: "NotImplemented", msg: what + " is not available with the configured provider"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and body. Upstream failures keep the
// status, code and request id the service reported.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Error:   "InternalError",
		Message: err.Error(),
		Status:  http.StatusInternalServerError,
	}
	var (
		verr *validate.Error
		herr *httpError
	)
	switch {
	case errors.As(err, &verr):
		body.Error = "ValidationError"
		body.Status = http.StatusBadRequest
		body.Issues = verr.Issues
	case errors.As(err, &herr):
		body.Error = herr.code
		body.Status = herr.status
	case errors.Is(err, model.ErrUnsupported):
		body.Error = "NotImplemented"
		body.Status = http.StatusNotImplemented
	default:
		if ue, ok := model.AsUpstream(err); ok {
			body.Status = ue.HTTPStatus()
			body.RequestID = ue.RequestID
			if ue.Code != "" {
				body.Error = ue.Code
			} else {
				body.Error = "UpstreamError"
			}
		}
	}
	if !s.production && body.Status >= http.StatusInternalServerError {
		if cause := errors.Unwrap(err); cause != nil {
			body.Detail = cause.Error()
		}
	}

	log := s.logger.With(zap.String("request_id", logging.RequestID(r.Context())), zap.Int("status", body.Status))
	if body.Status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Error(err))
	}
	writeJSON(w, body.Status, body)
}

// decode reads a size-limited JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &httpError{
				status: http.StatusRequestEntityTooLarge,
				code:   "PayloadTooLarge",
				msg:    fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		default:
			return badRequest("invalid JSON body: %v", err)
		}
	}
	return validate.Struct(v)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &committedWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panic",
				zap.String("request_id", logging.RequestID(r.Context())),
				zap.Bool("committed", cw.committed),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			// Committed responses (open SSE sessions) only get the log line.
			if cw.committed {
				return
			}
			s.writeError(w, r, fmt.Errorf("internal server error: %v", rec))
		}()
		next.ServeHTTP(cw, r)
	})
}

// committedWriter records whether the response headers have been sent.
type committedWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *committedWriter) WriteHeader(code int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *committedWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}

func (w *committedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.committed = true
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *committedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
