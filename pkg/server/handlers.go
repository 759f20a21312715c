package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/event"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

const (
	defaultCostRequests = 1000
	maxCostRequests     = 1e12
)

type healthResponse struct {
	OK    bool        `json:"ok"`
	Time  string      `json:"time"`
	Usage ledgerState `json:"usage"`
}

type ledgerState struct {
	Capacity int `json:"capacity"`
	Size     int `json:"size"`
}

type modelsResponse struct {
	Count  int                  `json:"count"`
	Models []model.ModelSummary `json:"models"`
}

type chatResponse struct {
	Text       string            `json:"text"`
	StopReason string            `json:"stopReason,omitempty"`
	Usage      *model.TokenUsage `json:"usage,omitempty"`
	Raw        any               `json:"raw,omitempty"`
}

type ragResponse struct {
	Answer    string `json:"answer"`
	Citations any    `json:"citations"`
	SessionID string `json:"sessionId,omitempty"`
	Raw       any    `json:"raw,omitempty"`
}

type recentResponse struct {
	Items []usage.Record `json:"items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ledger := s.relay.Ledger()
	writeJSON(w, http.StatusOK, healthResponse{
		OK:    true,
		Time:  time.Now().UTC().Format(time.RFC3339),
		Usage: ledgerState{Capacity: ledger.Capacity(), Size: ledger.Len()},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, &httpError{
		status: http.StatusNotFound,
		code:   "NotFound",
		msg:    "No route: " + r.Method + " " + r.URL.Path,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	models, err := s.chat.ListModels(r.Context(), model.ListModelsInput{
		Provider:       q.Get("provider"),
		OutputModality: q.Get("outputModality"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modelsResponse{Count: len(models), Models: models})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.Converse(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.relay.RecordChat(req.ModelID, res.Usage)
	out := chatResponse{Text: res.Text, StopReason: res.StopReason, Usage: res.Usage}
	if flag(r, "raw") {
		out.Raw = res.Raw
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	stream, err := event.Open(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.relay.StreamConverse(r.Context(), stream, req.ModelID, func(ctx context.Context) (*model.Stream[model.ConverseEvent], error) {
		return s.chat.ConverseStream(ctx, req)
	})
	s.logStreamEnd(r, "chat", err)
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	if s.kb == nil {
		s.writeError(w, r, notImplemented("knowledge base retrieval"))
		return
	}
	var req model.RAGRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	arn, err := s.kb.ModelArnFor(req)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	res, err := s.kb.RetrieveAndGenerate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.relay.RecordRAG(req, arn)
	out := ragResponse{Answer: res.Answer, Citations: res.Citations, SessionID: res.SessionID}
	if flag(r, "raw") {
		out.Raw = res.Raw
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgentInvoke(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		s.writeError(w, r, notImplemented("agent invocation"))
		return
	}
	var req model.AgentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	withTrace := flag(r, "trace")
	if withTrace && req.EnableTrace == nil {
		enabled := true
		req.EnableTrace = &enabled
	}
	res, err := s.relay.CollectAgent(r.Context(), req, func(ctx context.Context) (*model.AgentStream, error) {
		return s.agents.InvokeAgent(ctx, req)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !withTrace {
		res.Trace = nil
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		s.writeError(w, r, notImplemented("agent invocation"))
		return
	}
	var req model.AgentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	stream, err := event.Open(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.relay.StreamAgent(r.Context(), stream, req, func(ctx context.Context) (*model.AgentStream, error) {
		return s.agents.InvokeAgent(ctx, req)
	})
	s.logStreamEnd(r, "agent", err)
}

func (s *Server) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	items := s.relay.Ledger().Recent(usage.ParseLimit(r.URL.Query().Get("limit")))
	writeJSON(w, http.StatusOK, recentResponse{Items: items})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.relay.Ledger().Summarize(usage.ParseLimit(r.URL.Query().Get("limit")))
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleUsageCost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sum := s.relay.Ledger().Summarize(usage.ParseLimit(q.Get("limit")))
	pricing := usage.Pricing{
		InputPer1K:  parseFloat(q.Get("priceIn")),
		OutputPer1K: parseFloat(q.Get("priceOut")),
	}
	requests := defaultCostRequests
	if raw := strings.TrimSpace(q.Get("requests")); raw != "" {
		requests = int(min(max(parseFloat(raw), 0), maxCostRequests))
	}
	writeJSON(w, http.StatusOK, usage.Estimate(sum, pricing, requests))
}

func (s *Server) logStreamEnd(r *http.Request, kind string, err error) {
	if err == nil {
		return
	}
	s.logger.Debug("stream ended early", zap.String("kind", kind), zap.String("path", r.URL.Path), zap.Error(err))
}

// flag reports whether a boolean query parameter is set ("1" or "true").
func flag(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
