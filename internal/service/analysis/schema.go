package analysis

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// Output schemas requested from the completion provider. Providers without
// native structured output still get the object shape from the prompt.
var (
	queriesSchema = &core.OutputSchema{
		Name: "search_queries",
		Properties: map[string]interface{}{
			"queries": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	}

	planSchema = &core.OutputSchema{
		Name: "analysis_plan",
		Properties: map[string]interface{}{
			"categories": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":            map[string]interface{}{"type": "string"},
						"description":     map[string]interface{}{"type": "string"},
						"requires_search": map[string]interface{}{"type": "boolean"},
						"content":         map[string]interface{}{"type": "string"},
					},
					"required": []string{"name", "description", "requires_search"},
				},
			},
		},
	}

	gradeSchema = &core.OutputSchema{
		Name: "category_grade",
		Properties: map[string]interface{}{
			"grade": map[string]interface{}{
				"type": "string",
				"enum": []string{gradePass, gradeFail},
			},
			"follow_up_queries": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	}

	depositionSchema = &core.OutputSchema{
		Name: "deposition_questions",
		Properties: map[string]interface{}{
			"witness_questions": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"witness_name": map[string]interface{}{"type": "string"},
						"witness_role": map[string]interface{}{"type": "string"},
						"questions": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"question": map[string]interface{}{"type": "string"},
									"purpose":  map[string]interface{}{"type": "string"},
									"expected_areas": map[string]interface{}{
										"type":  "array",
										"items": map[string]interface{}{"type": "string"},
									},
								},
							},
						},
					},
				},
			},
		},
	}
)

const (
	gradePass = "pass"
	gradeFail = "fail"
)

type queriesOutput struct {
	Queries []string `mapstructure:"queries"`
}

type planCategoryOutput struct {
	Name           string `mapstructure:"name"`
	Description    string `mapstructure:"description"`
	RequiresSearch *bool  `mapstructure:"requires_search"`
	// Older prompts used the longer key.
	RequiresDocumentSearch *bool  `mapstructure:"requires_document_search"`
	Content                string `mapstructure:"content"`
}

type planOutput struct {
	Categories []planCategoryOutput `mapstructure:"categories"`
}

type gradeOutput struct {
	Grade           string   `mapstructure:"grade"`
	FollowUpQueries []string `mapstructure:"follow_up_queries"`
}

type depositionQuestionOutput struct {
	Question      string   `mapstructure:"question"`
	Purpose       string   `mapstructure:"purpose"`
	ExpectedAreas []string `mapstructure:"expected_areas"`
}

type witnessOutput struct {
	WitnessName string                     `mapstructure:"witness_name"`
	WitnessRole string                     `mapstructure:"witness_role"`
	Questions   []depositionQuestionOutput `mapstructure:"questions"`
}

type depositionOutput struct {
	Witnesses []witnessOutput `mapstructure:"witness_questions"`
}

// decodeStructured decodes a provider object into out. Scalars are weakly
// typed ("true" decodes into a bool) and objects found where a string is
// expected are collapsed to their query text.
func decodeStructured(in map[string]interface{}, out interface{}) error {
	if in == nil {
		return core.ErrProvider(core.CodeBadResponse, "provider returned no structured output", true)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(objectToStringHook),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return core.ErrProvider(core.CodeBadResponse, "structured output does not match schema", true).WithCause(err)
	}
	if v, ok := out.(interface{ validate() error }); ok {
		return v.validate()
	}
	return nil
}

// objectToStringHook accepts {"search_query": "..."} style items in string lists.
func objectToStringHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Map || to.Kind() != reflect.String {
		return data, nil
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}
	for _, key := range []string{"search_query", "query", "text"} {
		if s, ok := m[key].(string); ok {
			return s, nil
		}
	}
	return data, nil
}

// cleanQueries trims, drops empties and duplicates, and caps the list at max.
func cleanQueries(queries []string, max int) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func (p planOutput) categories() []core.AnalysisCategory {
	out := make([]core.AnalysisCategory, 0, len(p.Categories))
	for _, c := range p.Categories {
		requires := false
		switch {
		case c.RequiresSearch != nil:
			requires = *c.RequiresSearch
		case c.RequiresDocumentSearch != nil:
			requires = *c.RequiresDocumentSearch
		}
		out = append(out, core.AnalysisCategory{
			Name:           strings.TrimSpace(c.Name),
			Description:    strings.TrimSpace(c.Description),
			RequiresSearch: requires,
			Content:        c.Content,
		})
	}
	return out
}

// validate rejects grades other than pass or fail.
func (g *gradeOutput) validate() error {
	switch strings.ToLower(strings.TrimSpace(g.Grade)) {
	case gradePass, gradeFail:
		return nil
	}
	return core.ErrProvider(core.CodeBadResponse, fmt.Sprintf("unknown grade %q", g.Grade), true)
}

func (g gradeOutput) passed() bool {
	return strings.ToLower(strings.TrimSpace(g.Grade)) == gradePass
}

func (d depositionOutput) questions() *core.DepositionQuestions {
	out := &core.DepositionQuestions{Witnesses: make([]core.WitnessQuestions, 0, len(d.Witnesses))}
	for _, w := range d.Witnesses {
		wq := core.WitnessQuestions{
			WitnessName: strings.TrimSpace(w.WitnessName),
			WitnessRole: strings.TrimSpace(w.WitnessRole),
			Questions:   make([]core.DepositionQuestion, 0, len(w.Questions)),
		}
		for _, q := range w.Questions {
			wq.Questions = append(wq.Questions, core.DepositionQuestion{
				Question:      strings.TrimSpace(q.Question),
				Purpose:       strings.TrimSpace(q.Purpose),
				ExpectedAreas: q.ExpectedAreas,
			})
		}
		out.Witnesses = append(out.Witnesses, wq)
	}
	return out
}
