package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
)

// titleLength is how much of the background goes into the report title.
const titleLength = 100

// Synthesizer produces the deposition questions and the final report.
type Synthesizer struct {
	caller  *Caller
	prompts PromptRenderer
	logger  *logging.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(caller *Caller, prompts PromptRenderer, logger *logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synthesizer{caller: caller, prompts: prompts, logger: logger}
}

// OrderByPlan returns the completed categories in plan order. Plan entries
// that never completed are skipped, and so are completed entries the plan
// does not name.
func OrderByPlan(plan, completed []core.AnalysisCategory) []core.AnalysisCategory {
	byName := make(map[string]core.AnalysisCategory, len(completed))
	for _, c := range completed {
		byName[c.Name] = c
	}
	out := make([]core.AnalysisCategory, 0, len(completed))
	for _, p := range plan {
		if c, ok := byName[p.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FormatCategories renders categories as shared context for later prompts.
func FormatCategories(categories []core.AnalysisCategory) string {
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("### %s\n\n%s\n", c.Name, c.Content))
	}
	return strings.Join(parts, "\n")
}

// DepositionQuestions drafts witness questions from the ordered categories.
func (s *Synthesizer) DepositionQuestions(ctx context.Context, background string, ordered []core.AnalysisCategory, maxWitnesses int) (*core.DepositionQuestions, error) {
	prompt, err := s.prompts.RenderDeposition(service.DepositionParams{
		Background:   background,
		Context:      FormatCategories(ordered),
		MaxWitnesses: maxWitnesses,
	})
	if err != nil {
		return nil, err
	}
	var out depositionOutput
	if err := s.caller.CompleteInto(ctx, core.CompletionRequest{
		Stage:      StageDeposition,
		UserPrompt: prompt,
		Schema:     depositionSchema,
	}, &out); err != nil {
		return nil, err
	}

	questions := out.questions()
	if maxWitnesses > 0 && len(questions.Witnesses) > maxWitnesses {
		questions.Witnesses = questions.Witnesses[:maxWitnesses]
	}
	s.logger.Debug("deposition questions drafted", "witnesses", len(questions.Witnesses))
	return questions, nil
}

// ReportInput is everything the final report is composed from.
type ReportInput struct {
	Background string
	// Categories must already be in plan order.
	Categories []core.AnalysisCategory
	// IncludeDeposition adds the deposition section.
	IncludeDeposition bool
	Deposition        *core.DepositionQuestions
	// DepositionError replaces the questions when drafting failed.
	DepositionError string
}

// Compile renders the final Markdown report.
func Compile(in ReportInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Legal Analysis: %s...\n\n", truncateRunes(in.Background, titleLength))

	sections := make([]string, 0, len(in.Categories))
	for _, c := range in.Categories {
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", c.Name, c.Content))
	}
	b.WriteString(strings.Join(sections, "\n\n"))

	if !in.IncludeDeposition {
		return b.String()
	}

	b.WriteString("\n\n## Deposition Questions\n\n")
	if in.DepositionError != "" {
		fmt.Fprintf(&b, "_Deposition questions unavailable: %s._\n", in.DepositionError)
		return b.String()
	}
	if in.Deposition == nil {
		return b.String()
	}
	for _, w := range in.Deposition.Witnesses {
		fmt.Fprintf(&b, "### %s\n\n", w.WitnessName)
		fmt.Fprintf(&b, "**Role/Relevance:** %s\n\n", w.WitnessRole)
		b.WriteString("**Questions:**\n")
		for i, q := range w.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q.Question)
			fmt.Fprintf(&b, "   - *Purpose:* %s\n", q.Purpose)
			fmt.Fprintf(&b, "   - *Expected areas:* %s\n\n", strings.Join(q.ExpectedAreas, ", "))
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
