package essay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/generation"
)

const (
	maxParagraphs      = 20
	maxTargetWordCount = 10000
	defaultLevel       = "undergraduate"
	defaultStyle       = "APA"
)

type plannedParagraph struct {
	Title  string   `json:"title"`
	Chunks []string `json:"chunks"`
	Weight float64  `json:"weight"`
}

type plannerOutput struct {
	Thesis     string             `json:"thesis"`
	Paragraphs []plannedParagraph `json:"paragraphs"`
}

// Normalize fills defaults and rejects bad input. It never calls out.
func (r PlanRequest) Normalize() (PlanRequest, error) {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return r, validation("prompt", "must not be empty")
	}
	if r.TargetWordCount <= 0 {
		return r, validation("targetWordCount", "must be a positive integer")
	}
	if r.TargetWordCount > maxTargetWordCount {
		return r, validation("targetWordCount", fmt.Sprintf("must be at most %d", maxTargetWordCount))
	}
	mode, ok := ParseMode(string(r.Mode))
	if !ok {
		return r, validation("mode", "must be one of grounded, mixed, teach")
	}
	r.Mode = mode
	r.AcademicLevel = strings.TrimSpace(r.AcademicLevel)
	if r.AcademicLevel == "" {
		r.AcademicLevel = defaultLevel
	}
	r.CitationStyle = strings.TrimSpace(r.CitationStyle)
	if r.CitationStyle == "" {
		r.CitationStyle = defaultStyle
	}
	r.Rubric = strings.TrimSpace(r.Rubric)
	refs := make([]string, 0, len(r.ChunkRefs))
	seen := make(map[string]bool, len(r.ChunkRefs))
	for _, ref := range r.ChunkRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	r.ChunkRefs = refs
	return r, nil
}

// selectChunks resolves the request's chunk refs against the current index.
// No refs means every chunk.
func selectChunks(req PlanRequest, chunks []evidence.Chunk) ([]evidence.Chunk, error) {
	if len(req.ChunkRefs) == 0 {
		return chunks, nil
	}
	byLabel := evidence.ByLabel(chunks)
	selected := make([]evidence.Chunk, 0, len(req.ChunkRefs))
	var unknown []string
	for _, ref := range req.ChunkRefs {
		chunk, ok := byLabel[ref]
		if !ok {
			unknown = append(unknown, ref)
			continue
		}
		selected = append(selected, chunk)
	}
	if len(unknown) > 0 {
		return nil, validation("chunkRefs", "unknown chunk labels: "+strings.Join(unknown, ", "))
	}
	return selected, nil
}

func plannerSystemPrompt(mode Mode) string {
	var b strings.Builder
	b.WriteString("You plan academic essays. Respond with a single JSON object and nothing else, shaped as ")
	b.WriteString(`{"thesis": string, "paragraphs": [{"title": string, "chunks": [string], "weight": number}]}. `)
	b.WriteString("Each paragraph lists the evidence labels it should draw on, exactly as given. ")
	b.WriteString("weight is the paragraph's relative share of the word budget. ")
	b.WriteString(fmt.Sprintf("Plan between 3 and %d paragraphs. ", maxParagraphs))
	switch mode {
	case ModeGrounded:
		b.WriteString("Every paragraph must be supportable from the evidence alone.")
	case ModeMixed:
		b.WriteString("Ground paragraphs in the evidence; general knowledge may fill gaps.")
	case ModeTeach:
		b.WriteString("Frame paragraphs to explain the topic to a learner, grounded in the evidence.")
	}
	return b.String()
}

func plannerUserPrompt(req PlanRequest, chunks []evidence.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prompt: %s\n", req.Prompt)
	fmt.Fprintf(&b, "Target words: %d\n", req.TargetWordCount)
	fmt.Fprintf(&b, "Academic level: %s\n", req.AcademicLevel)
	fmt.Fprintf(&b, "Citation style: %s\n", req.CitationStyle)
	if req.Rubric != "" {
		fmt.Fprintf(&b, "Rubric:\n%s\n", req.Rubric)
	}
	b.WriteString("\nEvidence:\n")
	writeEvidence(&b, chunks)
	return b.String()
}

func writeEvidence(b *strings.Builder, chunks []evidence.Chunk) {
	if len(chunks) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, chunk := range chunks {
		fmt.Fprintf(b, "[%s] (%s, %s", chunk.Label, chunk.DisplayName, chunk.Group)
		if chunk.Priority {
			b.WriteString(", priority")
		}
		fmt.Fprintf(b, ")\n%s\n\n", chunk.ExcerptText)
	}
}

// parsePlannerOutput accepts the planner's JSON, optionally inside a code fence
// or surrounded by chatter.
func parsePlannerOutput(raw string) (plannerOutput, error) {
	var out plannerOutput
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, &GenerationError{Message: "planner returned no JSON object"}
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return out, &GenerationError{Message: "planner returned malformed JSON", Err: err}
	}
	out.Thesis = strings.TrimSpace(out.Thesis)
	if out.Thesis == "" {
		return out, &GenerationError{Message: "planner returned no thesis"}
	}
	kept := out.Paragraphs[:0]
	for _, p := range out.Paragraphs {
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return out, &GenerationError{Message: "planner returned no paragraphs"}
	}
	if len(kept) > maxParagraphs {
		kept = kept[:maxParagraphs]
	}
	out.Paragraphs = kept
	return out, nil
}

// apportion splits total across weights with the largest-remainder method.
// The result always sums to total and no share is negative. Non-positive or
// non-finite weights count as 1, weights are scaled by the largest one before
// summing, and remainder ties go to the lower index.
func apportion(total int, weights []float64) []int {
	n := len(weights)
	if n == 0 {
		return nil
	}
	clean := make([]float64, n)
	largest := 0.0
	for i, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			w = 1
		}
		clean[i] = w
		largest = math.Max(largest, w)
	}
	sum := 0.0
	for i := range clean {
		clean[i] /= largest
		sum += clean[i]
	}
	shares := make([]int, n)
	remainders := make([]float64, n)
	assigned := 0
	for i, w := range clean {
		exact := float64(total) * w / sum
		shares[i] = max(int(exact), 0)
		remainders[i] = exact - float64(shares[i])
		assigned += shares[i]
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for i := 0; assigned < total; i = (i + 1) % n {
		shares[order[i]]++
		assigned++
	}
	return shares
}

func (s *Service) buildOutline(req PlanRequest, out plannerOutput, chunks []evidence.Chunk) Outline {
	byLabel := evidence.ByLabel(chunks)
	planned := out.Paragraphs
	if len(planned) > req.TargetWordCount {
		planned = planned[:req.TargetWordCount]
	}
	weights := make([]float64, len(planned))
	for i, p := range planned {
		weights[i] = p.Weight
	}
	words := apportion(req.TargetWordCount, weights)
	now := s.now()
	paragraphs := make([]Paragraph, len(planned))
	for i, p := range planned {
		refs := make([]ChunkRef, 0, len(p.Chunks))
		seen := make(map[string]bool, len(p.Chunks))
		for _, label := range p.Chunks {
			label = strings.TrimSpace(strings.Trim(strings.TrimSpace(label), "[]"))
			chunk, ok := byLabel[label]
			if !ok || seen[label] {
				continue
			}
			seen[label] = true
			refs = append(refs, ChunkRef{Label: label, ExcerptText: chunk.ExcerptText})
		}
		paragraphs[i] = Paragraph{
			Title:              p.Title,
			IntendedChunks:     refs,
			SuggestedWordCount: words[i],
			ExpansionState:     StatePlanned,
			UpdatedAt:          now,
		}
	}
	return Outline{
		Thesis:              out.Thesis,
		Paragraphs:          paragraphs,
		RetrievedChunkCount: len(chunks),
		Request:             req,
		CreatedAt:           now,
	}
}

// PlanOutline validates req, asks the generator for an outline over the
// session's current evidence and stores it. Nothing is stored on failure.
func (s *Service) PlanOutline(ctx context.Context, sessionID, ownerID string, req PlanRequest) (Outline, error) {
	req, err := req.Normalize()
	if err != nil {
		return Outline{}, err
	}
	all, _, err := s.evidence.Evidence(ctx, sessionID)
	if err != nil {
		return Outline{}, err
	}
	chunks, err := selectChunks(req, all)
	if err != nil {
		return Outline{}, err
	}
	if req.Mode == ModeGrounded && len(chunks) == 0 {
		return Outline{}, validation("chunkRefs", "grounded mode needs at least one evidence chunk")
	}

	raw, err := s.gen.Generate(ctx, plannerSystemPrompt(req.Mode), plannerUserPrompt(req, chunks))
	if err != nil {
		s.log.Warn("outline planning failed", "session_id", sessionID, "error", err)
		return Outline{}, generation.Wrap(err, "planning outline")
	}
	out, err := parsePlannerOutput(raw)
	if err != nil {
		s.log.Warn("outline planner output rejected", "session_id", sessionID, "error", err)
		return Outline{}, err
	}

	outline := s.buildOutline(req, out, chunks)
	outline.ID = s.newID()
	outline.SessionID = sessionID
	outline.OwnerID = ownerID
	if err := s.store.CreateOutline(ctx, outline); err != nil {
		return Outline{}, fmt.Errorf("store outline: %w", err)
	}
	s.log.Info("outline planned", "outline_id", outline.ID, "paragraphs", len(outline.Paragraphs), "chunks", outline.RetrievedChunkCount)
	return outline, nil
}
