package relay

import (
	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

// RecordChat appends a converse record when the upstream reported usage.
func (r *Relay) RecordChat(modelID string, u *model.TokenUsage) {
	if r.ledger == nil || u.Empty() {
		return
	}
	r.append(usage.Candidate{
		Kind:         usage.KindConverse,
		ModelID:      modelID,
		InputTokens:  usage.TokensPtr(u.InputTokens),
		OutputTokens: usage.TokensPtr(u.OutputTokens),
		TotalTokens:  usage.TokensPtr(u.TotalTokens),
	})
}

// RecordRAG appends a knowledge base query. The retrieval API reports no
// counters, so the record carries none and summaries skip it.
func (r *Relay) RecordRAG(req model.RAGRequest, modelArn string) {
	if r.ledger == nil {
		return
	}
	r.append(usage.Candidate{
		Kind:      usage.KindRAG,
		ModelID:   modelArn,
		Estimated: true,
		Meta:      map[string]any{"knowledgeBaseId": req.KnowledgeBaseID},
	})
}

// RecordAgent appends an agent record. Counters come from the trace
// payloads when any carried usage; otherwise both sides are estimated from
// the input text and the completion.
func (r *Relay) RecordAgent(req model.AgentRequest, sessionID, completion string, traces []any) {
	if r.ledger == nil {
		return
	}
	c := usage.Candidate{
		Kind:    usage.KindAgent,
		AgentID: req.AgentID,
		Meta: map[string]any{
			"agentAliasId": req.AgentAliasID,
			"sessionId":    sessionID,
		},
	}
	if u, ok := sumTraceUsage(traces); ok {
		c.InputTokens = usage.TokensPtr(u.InputTokens)
		c.OutputTokens = usage.TokensPtr(u.OutputTokens)
		c.TotalTokens = usage.TokensPtr(u.TotalTokens)
	} else {
		in := usage.EstimateTokens(req.InputText, r.lang)
		out := usage.EstimateTokens(completion, r.lang)
		c.InputTokens = usage.Tokens(in)
		c.OutputTokens = usage.Tokens(out)
		c.TotalTokens = usage.Tokens(in + out)
		c.Estimated = true
	}
	r.append(c)
}

func (r *Relay) append(c usage.Candidate) {
	rec := r.ledger.Append(c)
	r.logger.Debug("usage recorded",
		zap.String("kind", string(rec.Kind)),
		zap.Bool("estimated", rec.Estimated),
		zap.Time("ts", rec.Timestamp),
	)
}
