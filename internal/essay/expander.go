package essay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/generation"
)

// staleFactor bounds how long an Expanding mark may outlive its call. A mark
// older than staleFactor timeouts is treated as abandoned.
const staleFactor = 3

func expanderSystemPrompt(mode Mode, style string) string {
	var b strings.Builder
	b.WriteString("You write one paragraph of an academic essay. Return only the paragraph text. ")
	b.WriteString("After every claim drawn from the evidence, cite it with its label in square brackets exactly as given, ")
	b.WriteString("for example [R1:p1], or [R1:p1; N2:p3] for several. Do not invent labels. ")
	fmt.Fprintf(&b, "Citation markers are converted to %s style later; do not format references yourself. ", style)
	switch mode {
	case ModeGrounded:
		b.WriteString("Use only the evidence provided. Every sentence that states a fact must carry a citation.")
	case ModeMixed:
		b.WriteString("Ground the paragraph in the evidence. You may add uncited general knowledge where it helps, but never contradict the evidence.")
	case ModeTeach:
		b.WriteString("Explain the material to a learner, grounded in the evidence. You may add uncited general knowledge to explain, but never contradict the evidence.")
	}
	return b.String()
}

func expanderUserPrompt(outline Outline, index int, p Paragraph, chunks []evidence.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Essay prompt: %s\n", outline.Request.Prompt)
	fmt.Fprintf(&b, "Thesis: %s\n", outline.Thesis)
	fmt.Fprintf(&b, "Academic level: %s\n", outline.Request.AcademicLevel)
	fmt.Fprintf(&b, "Paragraph %d of %d: %s\n", index+1, len(outline.Paragraphs), p.Title)
	fmt.Fprintf(&b, "Length: about %d words\n", p.SuggestedWordCount)
	if outline.Request.Rubric != "" {
		fmt.Fprintf(&b, "Rubric:\n%s\n", outline.Request.Rubric)
	}
	b.WriteString("\nEvidence:\n")
	writeEvidence(&b, chunks)
	return b.String()
}

// allowedChunks is the evidence an expansion may cite: the planned chunks that
// still exist in the current index, then any discovered ones.
func (s *Service) allowedChunks(ctx context.Context, outline Outline, p Paragraph) ([]evidence.Chunk, error) {
	current, revision, err := s.evidence.Evidence(ctx, outline.SessionID)
	if err != nil {
		return nil, err
	}
	byLabel := evidence.ByLabel(current)
	allowed := make([]evidence.Chunk, 0, len(p.IntendedChunks)+s.searchLimit)
	taken := make(map[string]bool, len(p.IntendedChunks))
	for _, ref := range p.IntendedChunks {
		if chunk, ok := byLabel[ref.Label]; ok && !taken[ref.Label] {
			taken[ref.Label] = true
			allowed = append(allowed, chunk)
		}
	}
	if s.searchLimit == 0 || len(current) == len(allowed) {
		return allowed, nil
	}
	candidates := make([]evidence.Chunk, 0, len(current)-len(allowed))
	for _, chunk := range current {
		if !taken[chunk.Label] {
			candidates = append(candidates, chunk)
		}
	}
	query := p.Title + " " + outline.Thesis
	labels, err := s.discover.Discover(ctx, outline.SessionID, revision, query, candidates, s.searchLimit)
	if err != nil {
		s.log.Warn("chunk discovery failed", "outline_id", outline.ID, "error", err)
		return allowed, nil
	}
	added := 0
	for _, label := range labels {
		chunk, ok := byLabel[label]
		if !ok || taken[label] || added >= s.searchLimit {
			continue
		}
		taken[label] = true
		allowed = append(allowed, chunk)
		added++
	}
	return allowed, nil
}

// settle writes p even when the caller's context is already cancelled.
func (s *Service) settle(ctx context.Context, outlineID string, index int, claimedAt time.Time, p Paragraph) error {
	return s.store.SettleExpansion(context.WithoutCancel(ctx), outlineID, index, claimedAt, p)
}

// ExpandParagraph runs one Planned|Expanded|Failed → Expanding → Expanded|Failed
// transition. A generation failure leaves the prior text and citations in
// place with state Failed. Cancellation by the caller restores the paragraph
// exactly as it was.
func (s *Service) ExpandParagraph(ctx context.Context, outlineID string, index int) (Paragraph, error) {
	outline, err := s.store.GetOutline(ctx, outlineID)
	if err != nil {
		return Paragraph{}, err
	}
	if index < 0 || index >= len(outline.Paragraphs) {
		return Paragraph{}, &NotFoundError{Resource: "paragraph", ID: outlineID + "/" + strconv.Itoa(index)}
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	prior, err := s.store.BeginExpansion(ctx, outlineID, index, now, now.Add(-staleFactor*s.timeout))
	if err != nil {
		return Paragraph{}, err
	}
	log := s.log.With("outline_id", outlineID, "index", index)

	restore := func(cause error) (Paragraph, error) {
		if err := s.settle(ctx, outlineID, index, now, prior); err != nil {
			log.Error("restore paragraph failed", "error", err)
		}
		return prior, &ExpansionError{Index: index, Err: cause}
	}

	chunks, err := s.allowedChunks(ctx, outline, prior)
	if err != nil {
		return restore(err)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, genErr := s.gen.Generate(genCtx, expanderSystemPrompt(outline.Request.Mode, outline.Request.CitationStyle), expanderUserPrompt(outline, index, prior, chunks))
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("paragraph expansion cancelled")
		return restore(ctxErr)
	}

	var parsed parsedText
	if genErr == nil {
		parsed = parseMarkers(raw, evidence.ByLabel(chunks))
		if parsed.text == "" {
			genErr = &GenerationError{Message: "generator returned an empty paragraph"}
		}
	}
	if genErr != nil {
		wrapped := generation.Wrap(genErr, "expanding paragraph")
		failed := prior
		failed.ExpansionState = StateFailed
		failed.LastError = wrapped.Error()
		failed.Attempts++
		failed.UpdatedAt = s.now()
		if err := s.settle(ctx, outlineID, index, now, failed); err != nil {
			if errors.Is(err, ErrExpansionSuperseded) {
				log.Warn("failed expansion discarded", "error", err)
				return Paragraph{}, &ExpansionError{Index: index, Err: err}
			}
			log.Error("record failed expansion", "error", err)
			return restore(err)
		}
		log.Warn("paragraph expansion failed", "attempt", failed.Attempts, "error", wrapped)
		return failed, &ExpansionError{Index: index, Err: wrapped}
	}

	pages := make(map[string]*int, len(chunks))
	for _, chunk := range chunks {
		pages[chunk.Label] = chunk.PageNumber
	}
	used := make([]UsedChunk, 0, len(parsed.used))
	for _, label := range parsed.used {
		used = append(used, UsedChunk{Label: label, Page: pages[label]})
	}

	expanded := Paragraph{
		Title:              prior.Title,
		IntendedChunks:     prior.IntendedChunks,
		SuggestedWordCount: prior.SuggestedWordCount,
		ExpansionState:     StateExpanded,
		ExpandedText:       parsed.text,
		UsedChunks:         used,
		Citations:          parsed.citations,
		UnsupportedFlags:   detectUnsupported(outline.Request.Mode, parsed.text, parsed.markers, chunks),
		Attempts:           prior.Attempts + 1,
		UpdatedAt:          s.now(),
	}
	if err := s.settle(ctx, outlineID, index, now, expanded); err != nil {
		if errors.Is(err, ErrExpansionSuperseded) {
			log.Warn("late expansion discarded", "error", err)
			return Paragraph{}, &ExpansionError{Index: index, Err: err}
		}
		return restore(fmt.Errorf("store paragraph: %w", err))
	}
	log.Info("paragraph expanded", "citations", len(expanded.Citations), "flags", len(expanded.UnsupportedFlags))
	return expanded, nil
}

// ExpandAll expands every paragraph not yet Expanded, one at a time in
// order. A failed paragraph does not stop the rest; cancellation does.
func (s *Service) ExpandAll(ctx context.Context, outlineID string) ([]ParagraphResult, error) {
	outline, err := s.store.GetOutline(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	results := make([]ParagraphResult, 0, len(outline.Paragraphs))
	for i, p := range outline.Paragraphs {
		if p.ExpansionState == StateExpanded {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		expanded, err := s.ExpandParagraph(ctx, outlineID, i)
		result := ParagraphResult{Index: i, Paragraph: expanded, Err: err}
		if err != nil {
			result.Error = err.Error()
			if ctxErr := ctx.Err(); ctxErr != nil {
				results = append(results, result)
				return results, ctxErr
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// IsConflict reports whether err is a rejected or superseded concurrent
// expansion.
func IsConflict(err error) bool {
	return errors.Is(err, ErrExpansionInProgress) || errors.Is(err, ErrExpansionSuperseded)
}
