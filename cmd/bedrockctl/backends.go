package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/config"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model/anthropic"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model/bedrock"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model/openai"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/server"
)

// backends groups the upstream clients a command talks to.
type backends struct {
	chat   model.Provider
	kb     server.KnowledgeBase
	agents model.AgentInvoker
}

// backendFactory is swapped by tests.
var backendFactory = newBackends

// newBackends builds the configured chat provider. Knowledge bases and
// agents only exist on Bedrock, so its client is built regardless.
func newBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	aws, err := bedrock.New(ctx, bedrock.Options{
		Region:             cfg.AWS.Region,
		Profile:            cfg.AWS.Profile,
		DefaultRAGModelArn: cfg.RAG.ModelArn,
		Logger:             logger.Named("bedrock"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock client: %w", err)
	}
	b := &backends{chat: aws, kb: aws, agents: aws}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		p, err := anthropic.New(anthropic.Options{
			APIKey:    cfg.Anthropic.APIKey,
			BaseURL:   cfg.Anthropic.BaseURL,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		b.chat = p
	case config.ProviderOpenAI:
		p, err := openai.New(openai.Options{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			MaxTokens: cfg.OpenAI.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		b.chat = p
	}
	logger.Debug("backends ready", zap.String("chat", b.chat.Name()), zap.String("region", aws.Region()))
	return b, nil
}
