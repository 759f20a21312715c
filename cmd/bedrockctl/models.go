package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

func newModelsCommand(c *cli) *cobra.Command {
	var (
		in     model.ListModelsInput
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models of the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := backendFactory(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			models, err := b.chat.ListModels(cmd.Context(), in)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(c.streams.out)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}
			return printModels(c.streams, models)
		},
	}
	cmd.Flags().StringVar(&in.Provider, "provider", "", "Only list models of this provider")
	cmd.Flags().StringVar(&in.OutputModality, "output-modality", "", "Only list models producing this modality (TEXT, IMAGE, EMBEDDING)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printModels(streams ioStreams, models []model.ModelSummary) error {
	tw := tabwriter.NewWriter(streams.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL ID\tPROVIDER\tOUTPUT\tSTREAMING")
	for _, m := range models {
		streaming := "-"
		if m.ResponseStreamingSupported != nil {
			streaming = fmt.Sprint(*m.ResponseStreamingSupported)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ModelID, m.ProviderName, strings.Join(m.OutputModalities, ","), streaming)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(streams.err, "%d models\n", len(models))
	return nil
}
