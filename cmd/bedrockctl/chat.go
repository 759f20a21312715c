package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/event"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/relay"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/validate"
)

type chatFlags struct {
	modelID     string
	system      string
	stream      bool
	maxTokens   int
	temperature float64
}

func newChatCommand(c *cli) *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a one-shot prompt to the configured provider",
		Example: `  bedrockctl chat --model anthropic.claude-3-haiku-20240307-v1:0 "Summarize RAG in one line"
  bedrockctl chat --stream --model gpt-4o-mini "Count to five"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.ChatRequest{
				ModelID:  strings.TrimSpace(f.modelID),
				System:   f.system,
				Messages: []model.Message{{Role: "user", Content: strings.Join(args, " ")}},
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &f.maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &f.temperature
			}
			if err := validate.Struct(req); err != nil {
				return err
			}
			b, err := backendFactory(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			if f.stream {
				return c.streamChat(cmd.Context(), b.chat, req)
			}
			res, err := b.chat.Converse(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.streams.out, res.Text)
			printUsage(c.streams, res.Usage)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.modelID, "model", "m", "", "Model id to invoke")
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().BoolVarP(&f.stream, "stream", "s", false, "Stream the answer as it is generated")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate (1-4096)")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "Sampling temperature (0-2)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// streamChat runs the prompt through the same relay the server uses and
// prints deltas as they arrive.
func (c *cli) streamChat(ctx context.Context, chat model.Chat, req model.ChatRequest) error {
	rl := relay.New(usage.NewLedger(1), relay.WithLogger(c.logger.Named("relay")))
	var last *model.TokenUsage
	sink := event.SinkFunc(func(evt event.Event) error {
		switch evt.Type {
		case event.TypeDelta:
			_, err := fmt.Fprint(c.streams.out, evt.Text)
			return err
		case event.TypeUsage:
			last = evt.Usage
		case event.TypeDone:
			fmt.Fprintln(c.streams.out)
		}
		return nil
	})
	err := rl.StreamConverse(ctx, sink, req.ModelID, func(ctx context.Context) (*model.Stream[model.ConverseEvent], error) {
		return chat.ConverseStream(ctx, req)
	})
	if err != nil {
		return err
	}
	printUsage(c.streams, last)
	return nil
}

func printUsage(streams ioStreams, u *model.TokenUsage) {
	if u.Empty() {
		return
	}
	count := func(v *int64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(*v)
	}
	fmt.Fprintf(streams.err, "tokens: input=%s output=%s total=%s\n",
		count(u.InputTokens), count(u.OutputTokens), count(u.TotalTokens))
}
