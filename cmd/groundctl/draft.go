package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"groundwrite/api/internal/essay"
	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/store"
)

type draftOptions struct {
	Manifest string
	Out      string
	Format   string
}

func newDraftCommand(root *rootOptions, newGen generatorFactory) *cobra.Command {
	opts := &draftOptions{}
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Plan, expand and assemble an essay from a YAML manifest",
		Long: `Draft runs the whole pipeline in process: it builds the source registry
listed in the manifest, indexes it, plans an outline, expands every paragraph
and prints the assembled essay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runDraft(ctx, cmd, root, opts, newGen)
		},
	}
	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "path to the draft manifest (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the essay to this file instead of stdout")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

type draftResult struct {
	Outline essay.Outline           `json:"outline"`
	Results []essay.ParagraphResult `json:"results"`
	Essay   string                  `json:"essay"`
}

func runDraft(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *draftOptions, newGen generatorFactory) error {
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
	}
	m, err := loadManifest(opts.Manifest)
	if err != nil {
		return err
	}
	reg, err := m.registry()
	if err != nil {
		return err
	}
	log := root.logger()
	defer log.Sync()

	gen, err := newGen(ctx, log)
	if err != nil {
		return err
	}
	outlines := store.NewMemoryStore()
	source := essay.EvidenceFunc(func(context.Context, string) ([]evidence.Chunk, int64, error) {
		return evidence.Index(reg.Items()), reg.Revision(), nil
	})
	svc := essay.NewService(gen, outlines, source, essay.Options{Logger: log})

	outline, err := svc.PlanOutline(ctx, "local", "local", m.request())
	if err != nil {
		return err
	}
	results, err := svc.ExpandAll(ctx, outline.ID)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "paragraph %d failed: %v\n", r.Index, r.Err)
		}
	}
	outline, err = svc.Outline(ctx, outline.ID)
	if err != nil {
		return err
	}
	text := essay.Assemble(outline, nil, m.includeCitations())

	var payload []byte
	if opts.Format == "json" {
		payload, err = json.MarshalIndent(draftResult{Outline: outline, Results: results, Essay: text}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		payload = []byte(text)
	}
	payload = append(payload, '\n')

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, payload, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.Out, err)
		}
	} else if _, err := cmd.OutOrStdout().Write(payload); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d paragraphs failed to expand; re-run to retry", failed, len(results))
	}
	return nil
}
