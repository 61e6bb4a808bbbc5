package essay

import (
	"math"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/sources"
)

func knownChunks(labels ...string) map[string]evidence.Chunk {
	out := make(map[string]evidence.Chunk, len(labels))
	for _, label := range labels {
		out[label] = evidence.Chunk{Label: label}
	}
	return out
}

func assertBound(t *testing.T, text string, citations []Citation, flags []UnsupportedFlag) {
	t.Helper()
	for _, c := range citations {
		assert.Contains(t, text, c.SpanText, "citation span must be verbatim")
	}
	for _, f := range flags {
		assert.Contains(t, text, f.SentenceText, "flagged sentence must be verbatim")
	}
}

func TestParseMarkersDropsUnknownAndKeepsPlainBrackets(t *testing.T) {
	raw := "Photosynthesis converts light to chemical energy [R1:p1]. Plants use it to grow [X9:p1]. See [the appendix] for more."
	parsed := parseMarkers(raw, knownChunks("R1:p1"))

	assert.Equal(t, "Photosynthesis converts light to chemical energy. Plants use it to grow. See [the appendix] for more.", parsed.text)
	assert.Equal(t, []Citation{{SpanText: "Photosynthesis converts light to chemical energy", SourceLabel: "R1:p1"}}, parsed.citations)
	assert.Equal(t, []string{"R1:p1"}, parsed.used)
	require.Len(t, parsed.markers, 2)
	assert.True(t, parsed.markers[0].resolved)
	assert.False(t, parsed.markers[1].resolved)

	flags := detectUnsupported(ModeGrounded, parsed.text, parsed.markers, nil)
	assert.Equal(t, []UnsupportedFlag{{SentenceText: "See [the appendix] for more.", Reason: ReasonNotSupported}}, flags)
	assertBound(t, parsed.text, parsed.citations, flags)
}

func TestParseMarkersSpans(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantCites []Citation
	}{
		{
			name:     "group marker binds every label to one span",
			raw:      "Light matters [R1:p1; N1:p1] and more.",
			wantText: "Light matters and more.",
			wantCites: []Citation{
				{SpanText: "Light matters", SourceLabel: "R1:p1"},
				{SpanText: "Light matters", SourceLabel: "N1:p1"},
			},
		},
		{
			name:     "adjacent markers share the span",
			raw:      "Light matters[R1:p1][N1:p1].",
			wantText: "Light matters.",
			wantCites: []Citation{
				{SpanText: "Light matters", SourceLabel: "R1:p1"},
				{SpanText: "Light matters", SourceLabel: "N1:p1"},
			},
		},
		{
			name:      "marker after the full stop cites the sentence",
			raw:       "Plants need light. [R1:p1] They grow.",
			wantText:  "Plants need light. They grow.",
			wantCites: []Citation{{SpanText: "Plants need light.", SourceLabel: "R1:p1"}},
		},
		{
			name:     "second marker in a sentence starts after the first",
			raw:      "Plants need light [R1:p1] and water [N1:p1].",
			wantText: "Plants need light and water.",
			wantCites: []Citation{
				{SpanText: "Plants need light", SourceLabel: "R1:p1"},
				{SpanText: "and water", SourceLabel: "N1:p1"},
			},
		},
		{
			name:      "marker glued to the next word keeps a space",
			raw:       "Plants need light[R1:p1]today.",
			wantText:  "Plants need light today.",
			wantCites: []Citation{{SpanText: "Plants need light", SourceLabel: "R1:p1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseMarkers(tt.raw, knownChunks("R1:p1", "N1:p1"))
			assert.Equal(t, tt.wantText, parsed.text)
			assert.Equal(t, tt.wantCites, parsed.citations)
			assertBound(t, parsed.text, parsed.citations, nil)
		})
	}
}

func TestSplitSentences(t *testing.T) {
	text := `He said "yes." Then left! Did he? Yes` + "\nNew line."
	var got []string
	for _, s := range splitSentences(text) {
		got = append(got, s.text(text))
	}
	assert.Equal(t, []string{`He said "yes."`, "Then left!", "Did he?", "Yes", "New line."}, got)
}

func TestStructural(t *testing.T) {
	tests := map[string]bool{
		"In conclusion, photosynthesis matters.":  true,
		"Why does light matter?":                  true,
		"This essay explores energy in plants.":   true,
		"Firstly, energy.":                        true,
		"Plants are green.":                       false,
		"However, chlorophyll absorbs red light.": false,
		"Nextgen crops grow faster.":              false,
	}
	for sentence, want := range tests {
		assert.Equal(t, want, structural(sentence), sentence)
	}
}

func TestDetectUnsupportedGroundedSkipsStructural(t *testing.T) {
	text := "In conclusion, light matters. Plants convert light. Chlorophyll is green."
	parsed := parseMarkers("In conclusion, light matters. Plants convert light [R1:p1]. Chlorophyll is green.", knownChunks("R1:p1"))
	require.Equal(t, text, parsed.text)

	flags := detectUnsupported(ModeGrounded, parsed.text, parsed.markers, nil)
	assert.Equal(t, []UnsupportedFlag{{SentenceText: "Chlorophyll is green.", Reason: ReasonNotSupported}}, flags)
}

func TestDetectUnsupportedMixedFlagsOnlyContradictions(t *testing.T) {
	chunks := []evidence.Chunk{{Label: "R1:p1", ExcerptText: "Photosynthesis converts light to chemical energy."}}
	text := "Photosynthesis does not convert light into chemical energy. Plants are often green. Photosynthesis converts light into chemical energy."

	for _, mode := range []Mode{ModeMixed, ModeTeach} {
		flags := detectUnsupported(mode, text, nil, chunks)
		assert.Equal(t, []UnsupportedFlag{{
			SentenceText: "Photosynthesis does not convert light into chemical energy.",
			Reason:       ReasonContradicts,
			SourceLabel:  "R1:p1",
		}}, flags, mode)
	}
}

func TestApportion(t *testing.T) {
	assert.Equal(t, []int{267, 267, 266}, apportion(800, []float64{1, 1, 1}))
	assert.Equal(t, []int{3, 2, 5}, apportion(10, []float64{0, -1, 2}))
	assert.Equal(t, []int{533, 267}, apportion(800, []float64{2, 1}))
	assert.Equal(t, []int{267, 267, 266}, apportion(800, []float64{1e308, 1e308, 1e308}))
	assert.Equal(t, []int{800, 0}, apportion(800, []float64{1e308, 1}))
	assert.Equal(t, []int{400, 400}, apportion(800, []float64{math.Inf(1), math.NaN()}))

	for _, weights := range [][]float64{{1}, {3, 1, 1, 2}, {0.1, 0.7, 0.2}, {5, 5, 5, 5, 5, 5, 5}, {1e308, 1e308, 1}, {math.MaxFloat64, 1e-300, 4}} {
		sum := 0
		for _, n := range apportion(800, weights) {
			assert.GreaterOrEqual(t, n, 0, weights)
			sum += n
		}
		assert.Equal(t, 800, sum, weights)
	}
}

func TestParsePlannerOutput(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"thesis\": \" Light powers life. \", \"paragraphs\": [{\"title\": \"Intro\", \"chunks\": [\"R1:p1\"], \"weight\": 1}, {\"title\": \"  \"}]}\n```"
	out, err := parsePlannerOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "Light powers life.", out.Thesis)
	require.Len(t, out.Paragraphs, 1)
	assert.Equal(t, "Intro", out.Paragraphs[0].Title)

	for _, bad := range []string{"no json here", `{"thesis": "x", "paragraphs": []}`, `{"thesis": "", "paragraphs": [{"title": "a"}]}`, `{"thesis": `} {
		_, err := parsePlannerOutput(bad)
		var genErr *GenerationError
		assert.ErrorAs(t, err, &genErr, bad)
	}
}

func TestNormalizeRequest(t *testing.T) {
	req, err := PlanRequest{Prompt: " Explain ", TargetWordCount: 500, ChunkRefs: []string{"R1:p1", " R1:p1", ""}}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Explain", req.Prompt)
	assert.Equal(t, ModeGrounded, req.Mode)
	assert.Equal(t, defaultStyle, req.CitationStyle)
	assert.Equal(t, []string{"R1:p1"}, req.ChunkRefs)

	for _, bad := range []PlanRequest{
		{Prompt: "", TargetWordCount: 500},
		{Prompt: "x", TargetWordCount: 0},
		{Prompt: "x", TargetWordCount: -3},
		{Prompt: "x", TargetWordCount: maxTargetWordCount + 1},
		{Prompt: "x", TargetWordCount: 100, Mode: "freestyle"},
	} {
		_, err := bad.Normalize()
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
}

func assemblyOutline() Outline {
	return Outline{
		Thesis: "Light powers plants.",
		Paragraphs: []Paragraph{
			{
				Title:          "Mechanism",
				ExpansionState: StateExpanded,
				ExpandedText:   "Photosynthesis converts light to chemical energy. Energy is stored as sugar. Energy is stored as sugar.",
				Citations: []Citation{
					{SpanText: "Photosynthesis converts light to chemical energy", SourceLabel: "R1:p1"},
					{SpanText: "Energy is stored as sugar", SourceLabel: "R1:p1"},
					{SpanText: "Energy is stored as sugar", SourceLabel: "N1:p1", Occurrence: 1},
					{SpanText: "missing span", SourceLabel: "R1:p1"},
				},
			},
			{Title: "Efficiency", ExpansionState: StatePlanned},
			{Title: "Open questions", ExpansionState: StatePlanned},
		},
	}
}

func TestAssembleGolden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	out := Assemble(assemblyOutline(), map[int]string{1: "B-edited text."}, true)
	g.Assert(t, "assembled_with_citations", []byte(out))
}

func TestAssembleFallbackOrdering(t *testing.T) {
	outline := Outline{Paragraphs: []Paragraph{
		{Title: "First", ExpansionState: StateExpanded, ExpandedText: "A"},
		{Title: "Second", ExpansionState: StatePlanned},
	}}
	out := Assemble(outline, map[int]string{1: "B-edited"}, false)
	assert.Equal(t, "A\n\nB-edited", out)

	assert.Equal(t, "A\n\nSecond", Assemble(outline, nil, false))
}

func TestAssembleMergesLabelsOnSharedSpan(t *testing.T) {
	outline := Outline{Paragraphs: []Paragraph{{
		ExpansionState: StateExpanded,
		ExpandedText:   "Light matters.",
		Citations: []Citation{
			{SpanText: "Light matters", SourceLabel: "R1:p1"},
			{SpanText: "Light matters", SourceLabel: "N1:p1"},
		},
	}}}
	assert.Equal(t, "Light matters (R1:p1; N1:p1).", Assemble(outline, nil, true))
	assert.Equal(t, "Light matters.", Assemble(outline, nil, false))
}

func TestGroupMarkerLabelsStayTogetherOnRepeatedSpan(t *testing.T) {
	parsed := parseMarkers("Light matters [R1:p1; N1:p1]. Light matters [R1:p1].", knownChunks("R1:p1", "N1:p1"))
	require.Equal(t, "Light matters. Light matters.", parsed.text)
	assert.Equal(t, []Citation{
		{SpanText: "Light matters", SourceLabel: "R1:p1"},
		{SpanText: "Light matters", SourceLabel: "N1:p1"},
		{SpanText: "Light matters", SourceLabel: "R1:p1", Occurrence: 1},
	}, parsed.citations)

	outline := Outline{Paragraphs: []Paragraph{{
		ExpansionState: StateExpanded,
		ExpandedText:   parsed.text,
		Citations:      parsed.citations,
	}}}
	assert.Equal(t, "Light matters (R1:p1; N1:p1). Light matters (R1:p1).", Assemble(outline, nil, true))

	outline.Paragraphs[0].Citations = parsed.citations[:2]
	assert.Equal(t, "Light matters (R1:p1; N1:p1). Light matters.", Assemble(outline, nil, true))
}

func TestSelectChunks(t *testing.T) {
	r := sources.New()
	_, _ = r.Add(sources.GroupReferences, sources.Content{ID: "R1", ExcerptText: "one"}, sources.OriginFile)
	_, _ = r.Add(sources.GroupNotes, sources.Content{ID: "N1", ExcerptText: "two"}, sources.OriginPastedText)
	chunks := evidence.Index(r.Items())

	all, err := selectChunks(PlanRequest{}, chunks)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := selectChunks(PlanRequest{ChunkRefs: []string{"N1:p1"}}, chunks)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "N1:p1", some[0].Label)

	_, err = selectChunks(PlanRequest{ChunkRefs: []string{"N1:p1", "Z9:p4"}}, chunks)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.Contains(verr.Message, "Z9:p4"))
}
