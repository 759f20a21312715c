// Package bedrock implements the model interfaces on Amazon Bedrock: the
// control plane for the model catalog, the runtime for conversations and
// the agent runtime for knowledge bases and agents.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

// ProviderName tags spans, errors and logs.
const ProviderName = "bedrock"

var (
	_ modelpkg.Provider     = (*Client)(nil)
	_ modelpkg.Retriever    = (*Client)(nil)
	_ modelpkg.AgentInvoker = (*Client)(nil)
)

// Options configures New.
type Options struct {
	Region  string
	Profile string
	// DefaultRAGModelArn is used when a knowledge base request names no model.
	DefaultRAGModelArn string
	Logger             *zap.Logger
}

// eventReader is the part of an SDK event stream the client consumes.
type eventReader[T any] interface {
	Events() <-chan T
	Close() error
	Err() error
}

type controlAPI interface {
	ListFoundationModels(ctx context.Context, in *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

type runtimeAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type agentRuntimeAPI interface {
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

type converseStreamer func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader[runtimetypes.ConverseStreamOutput], error)

type agentStreamer func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (string, eventReader[agenttypes.ResponseStream], error)

// Client talks to the three Bedrock services.
type Client struct {
	region     string
	ragModel   string
	logger     *zap.Logger
	control    controlAPI
	runtime    runtimeAPI
	agents     agentRuntimeAPI
	openStream converseStreamer
	openAgent  agentStreamer
}

// New loads the shared AWS configuration (environment, profile, instance
// role) and builds the service clients.
func New(ctx context.Context, opts Options) (*Client, error) {
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		return nil, errors.New("bedrock: region is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile := strings.TrimSpace(opts.Profile); profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return NewFromConfig(awsCfg, opts), nil
}

// NewFromConfig builds a client from an already loaded AWS configuration.
func NewFromConfig(awsCfg aws.Config, opts Options) *Client {
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	agents := bedrockagentruntime.NewFromConfig(awsCfg)
	region := awsCfg.Region
	if r := strings.TrimSpace(opts.Region); r != "" {
		region = r
	}
	c := &Client{
		region:   region,
		ragModel: strings.TrimSpace(opts.DefaultRAGModelArn),
		logger:   opts.Logger,
		control:  bedrock.NewFromConfig(awsCfg),
		runtime:  runtime,
		agents:   agents,
		openStream: func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader[runtimetypes.ConverseStreamOutput], error) {
			out, err := runtime.ConverseStream(ctx, in)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
		openAgent: func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (string, eventReader[agenttypes.ResponseStream], error) {
			out, err := agents.InvokeAgent(ctx, in)
			if err != nil {
				return "", nil, err
			}
			return aws.ToString(out.SessionId), out.GetStream(), nil
		},
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Name identifies the provider.
func (c *Client) Name() string { return ProviderName }

// Region returns the region requests are sent to.
func (c *Client) Region() string { return c.region }
