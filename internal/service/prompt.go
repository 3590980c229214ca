package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// Template names.
const (
	PromptPlanQueries     = "plan-queries"
	PromptPlanCategories  = "plan-categories"
	PromptCategoryQueries = "category-queries"
	PromptCategoryAnalyze = "category-analyze"
	PromptCategoryGrade   = "category-grade"
	PromptCategorySynth   = "category-synthesize"
	PromptDeposition      = "deposition-questions"
)

// PromptRenderer renders prompts from templates.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer creates a new prompt renderer.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	return r, nil
}

// loadTemplates loads all templates from the embedded filesystem.
func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"trimSpace": strings.TrimSpace,
		"add":       func(a, b int) int { return a + b },
	}
}

// PlanQueriesParams feeds the planning query writer.
type PlanQueriesParams struct {
	Background        string
	AnalysisStructure string
	NumberOfQueries   int
}

// RenderPlanQueries renders the prompt that asks for planning search queries.
func (r *PromptRenderer) RenderPlanQueries(p PlanQueriesParams) (string, error) {
	return r.render(PromptPlanQueries, p)
}

// PlanCategoriesParams feeds the planner.
type PlanCategoriesParams struct {
	Background        string
	AnalysisStructure string
	Context           string
	// Feedback is the revision history joined with " /// ".
	Feedback string
}

// RenderPlanCategories renders the planning prompt.
func (r *PromptRenderer) RenderPlanCategories(p PlanCategoriesParams) (string, error) {
	return r.render(PromptPlanCategories, p)
}

// CategoryQueriesParams feeds a worker's first query generation.
type CategoryQueriesParams struct {
	Background      string
	Category        core.AnalysisCategory
	NumberOfQueries int
}

// RenderCategoryQueries renders the per-category query writer prompt.
func (r *PromptRenderer) RenderCategoryQueries(p CategoryQueriesParams) (string, error) {
	return r.render(PromptCategoryQueries, p)
}

// CategoryAnalyzeParams feeds the analyze step.
type CategoryAnalyzeParams struct {
	Background string
	Category   core.AnalysisCategory
	Evidence   string
}

// RenderCategoryAnalyze renders the analyze prompt.
func (r *PromptRenderer) RenderCategoryAnalyze(p CategoryAnalyzeParams) (string, error) {
	return r.render(PromptCategoryAnalyze, p)
}

// CategoryGradeParams feeds the grader.
type CategoryGradeParams struct {
	Background      string
	Category        core.AnalysisCategory
	NumberOfQueries int
}

// RenderCategoryGrade renders the grading prompt.
func (r *PromptRenderer) RenderCategoryGrade(p CategoryGradeParams) (string, error) {
	return r.render(PromptCategoryGrade, p)
}

// CategorySynthesizeParams feeds the non-search category writer.
type CategorySynthesizeParams struct {
	Background string
	Category   core.AnalysisCategory
	Context    string
}

// RenderCategorySynthesize renders the prompt for a category written from joined context.
func (r *PromptRenderer) RenderCategorySynthesize(p CategorySynthesizeParams) (string, error) {
	return r.render(PromptCategorySynth, p)
}

// DepositionParams feeds the deposition question generator.
type DepositionParams struct {
	Background   string
	Context      string
	MaxWitnesses int
}

// RenderDeposition renders the deposition question prompt.
func (r *PromptRenderer) RenderDeposition(p DepositionParams) (string, error) {
	return r.render(PromptDeposition, p)
}

// Render renders a template by name with the given data.
func (r *PromptRenderer) Render(name string, data interface{}) (string, error) {
	return r.render(name, data)
}

func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}

// ListTemplates returns available template names, sorted.
func (r *PromptRenderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTemplate checks if a template exists.
func (r *PromptRenderer) HasTemplate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}
