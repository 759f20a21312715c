package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/config"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

type fakeProvider struct {
	mu   sync.Mutex
	seen []model.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListModels(context.Context, model.ListModelsInput) ([]model.ModelSummary, error) {
	streaming := true
	return []model.ModelSummary{
		{ModelID: "anthropic.claude-3-haiku", ProviderName: "Anthropic", OutputModalities: []string{"TEXT"}, ResponseStreamingSupported: &streaming},
		{ModelID: "amazon.titan-embed-text-v2", ProviderName: "Amazon", OutputModalities: []string{"EMBEDDING"}},
	}, nil
}

func (f *fakeProvider) Converse(_ context.Context, req model.ChatRequest) (*model.ChatResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	return &model.ChatResult{Text: "pong", Usage: model.NewTokenUsage(2, 1, 0)}, nil
}

func (f *fakeProvider) ConverseStream(ctx context.Context, req model.ChatRequest) (*model.Stream[model.ConverseEvent], error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	return model.SliceStream(ctx, []model.ConverseEvent{
		{ContentBlockDelta: &model.ContentBlockDelta{Delta: &model.TextDelta{Text: "po"}}},
		{ContentBlockDelta: &model.ContentBlockDelta{Delta: &model.TextDelta{Text: "ng"}}},
		{Metadata: &model.StreamMetadata{Usage: model.NewTokenUsage(2, 1, 3)}},
	}, nil), nil
}

func useFakeBackends(t *testing.T) *fakeProvider {
	t.Helper()
	fake := &fakeProvider{}
	original := backendFactory
	backendFactory = func(context.Context, *config.Config, *zap.Logger) (*backends, error) {
		return &backends{chat: fake}, nil
	}
	t.Cleanup(func() { backendFactory = original })
	return fake
}

// isolate runs the test from an empty directory with no config-related
// environment leaking in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"PORT", "HOST", "ALLOWED_ORIGINS", "USAGE_MAX", "LLM_PROVIDER", "LOG_LEVEL", "LOG_FORMAT", "APP_ENV", "NODE_ENV", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OTEL_EXPORTER_OTLP_ENDPOINT", "RAG_MODEL_ARN", "AWS_REGION", "AWS_PROFILE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(ctx context.Context, args ...string) (string, string, error) {
	var out, errOut syncBuffer
	err := execute(ctx, &out, &errOut, args...)
	return out.String(), errOut.String(), err
}

func execute(ctx context.Context, out, errOut *syncBuffer, args ...string) error {
	root := newRootCommand(ioStreams{out: out, err: errOut})
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	return root.ExecuteContext(ctx)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "conf", "bedrock.yaml")

	out, _, err := run(context.Background(), "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created "+path)

	_, _, err = run(context.Background(), "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")
	_, _, err = run(context.Background(), "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-0123456789")
	out, _, err = run(context.Background(), "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "provider: anthropic")
	assert.Contains(t, out, "sk-a****")
	assert.NotContains(t, out, "0123456789")
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "99999")
	_, _, err := run(context.Background(), "config", "show")
	assert.ErrorContains(t, err, "load config")
}

func TestModelsTable(t *testing.T) {
	isolate(t)
	useFakeBackends(t)
	out, errOut, err := run(context.Background(), "models")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`MODEL ID\s+PROVIDER\s+OUTPUT\s+STREAMING`), out)
	assert.Regexp(t, regexp.MustCompile(`anthropic\.claude-3-haiku\s+Anthropic\s+TEXT\s+true`), out)
	assert.Regexp(t, regexp.MustCompile(`amazon\.titan-embed-text-v2\s+Amazon\s+EMBEDDING\s+-`), out)
	assert.Contains(t, errOut, "2 models")

	out, _, err = run(context.Background(), "models", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"modelId": "anthropic.claude-3-haiku"`)
}

func TestChat(t *testing.T) {
	isolate(t)
	fake := useFakeBackends(t)

	out, errOut, err := run(context.Background(), "chat", "--model", "m1", "--max-tokens", "64", "ping", "please")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", out)
	assert.Contains(t, errOut, "tokens: input=2 output=1 total=3")
	require.Len(t, fake.seen, 1)
	assert.Equal(t, "ping please", fake.seen[0].Messages[0].Content)
	require.NotNil(t, fake.seen[0].MaxTokens)
	assert.Equal(t, 64, *fake.seen[0].MaxTokens)
	assert.Nil(t, fake.seen[0].Temperature)
}

func TestChatStream(t *testing.T) {
	isolate(t)
	useFakeBackends(t)
	out, errOut, err := run(context.Background(), "chat", "--stream", "--model", "m1", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", out)
	assert.Contains(t, errOut, "total=3")
}

func TestChatValidation(t *testing.T) {
	isolate(t)
	fake := useFakeBackends(t)
	_, _, err := run(context.Background(), "chat", "--model", "m1", "--temperature", "5", "ping")
	assert.ErrorContains(t, err, "validation failed")
	assert.Empty(t, fake.seen)

	_, _, err = run(context.Background(), "chat", "ping")
	assert.ErrorContains(t, err, "model")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	isolate(t)
	useFakeBackends(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() { done <- execute(ctx, &out, &errOut, "serve", "--host", "127.0.0.1", "--port", "0") }()

	listening := regexp.MustCompile(`listening on (http://\S+)`)
	var base string
	require.Eventually(t, func() bool {
		m := listening.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		base = m[1]
		return true
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "provider fake")

	resp, err := http.Get(base + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/api/chat", "application/json", strings.NewReader(`{"modelId":"m","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeRejectsBadPort(t *testing.T) {
	isolate(t)
	useFakeBackends(t)
	_, _, err := run(context.Background(), "serve", "--port", "70000")
	assert.ErrorContains(t, err, "invalid port")
}
