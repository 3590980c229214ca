package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/diagnostics"
)

// Renderer writes thread state in one output mode.
type Renderer struct {
	out   io.Writer
	mode  OutputMode
	width int
}

// NewRenderer creates a renderer. width wraps rendered markdown; zero uses 100.
func NewRenderer(out io.Writer, mode OutputMode, width int) *Renderer {
	if width <= 0 {
		width = 100
	}
	return &Renderer{out: out, mode: mode, width: width}
}

// Mode returns the renderer's output mode.
func (r *Renderer) Mode() OutputMode { return r.mode }

func (r *Renderer) structured(v any) (bool, error) {
	switch r.mode {
	case ModeJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case ModeYAML:
		// Round-trip through JSON so keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (r *Renderer) pretty() bool { return r.mode == ModePretty }

func (r *Renderer) field(label, value string) string {
	if r.pretty() {
		return LabelStyle.Render(label) + " " + value
	}
	return fmt.Sprintf("%-12s %s", label, value)
}

func (r *Renderer) status(s core.RunStatus) string {
	if r.pretty() {
		return StatusStyle(s).Render(string(s))
	}
	return string(s)
}

// Status renders one thread's progress.
func (r *Renderer) Status(st *core.ThreadStatus) error {
	if done, err := r.structured(st); done {
		return err
	}

	lines := []string{
		r.field("thread", string(st.ThreadID)),
		r.field("status", r.status(st.Status)),
		r.field("node", string(st.Node)),
	}
	if st.TotalCount > 0 {
		lines = append(lines, r.field("categories", fmt.Sprintf("%d/%d (%.0f%%)", st.CompletedCount, st.TotalCount, st.Progress*100)))
	}
	if st.Live {
		lines = append(lines, r.field("live", "yes"))
	}
	if st.Error != "" {
		lines = append(lines, r.field("error", st.Error))
	}
	if !st.UpdatedAt.IsZero() {
		lines = append(lines, r.field("updated", st.UpdatedAt.Local().Format(time.RFC3339)))
	}
	return r.block(strings.Join(lines, "\n"))
}

// Approval renders a plan awaiting a decision.
func (r *Renderer) Approval(req *core.ApprovalRequest) error {
	if done, err := r.structured(req); done {
		return err
	}

	var b strings.Builder
	title := fmt.Sprintf("Plan for thread %s (revision %d)", req.ThreadID, req.PlanRevision)
	if r.pretty() {
		b.WriteString(HeaderStyle.Render(title))
	} else {
		b.WriteString(title + "\n")
	}
	b.WriteString("\n")

	for i, c := range req.Plan {
		mark := " "
		if c.RequiresSearch {
			mark = "*"
			if r.pretty() {
				mark = SearchMarkStyle.Render(mark)
			}
		}
		fmt.Fprintf(&b, "%d.%s %s: %s\n", i+1, mark, c.Name, c.Description)
	}

	if req.PlanDiff != "" {
		b.WriteString("\nChanges since the previous plan:\n")
		for _, line := range strings.Split(strings.TrimRight(req.PlanDiff, "\n"), "\n") {
			b.WriteString(r.diffLine(line) + "\n")
		}
	}

	footer := "Approve with `casework resume " + string(req.ThreadID) + " --approve` or revise with `--feedback \"...\"`."
	if r.pretty() {
		footer = MutedStyle.Render(footer)
	}
	b.WriteString("\n" + footer)
	return r.block(b.String())
}

func (r *Renderer) diffLine(line string) string {
	if !r.pretty() {
		return line
	}
	switch {
	case strings.HasPrefix(line, "+"):
		return AddedStyle.Render(line)
	case strings.HasPrefix(line, "-"):
		return RemovedStyle.Render(line)
	}
	return MutedStyle.Render(line)
}

// Threads renders a listing.
func (r *Renderer) Threads(list []core.ThreadSummary) error {
	if list == nil {
		list = []core.ThreadSummary{}
	}
	if done, err := r.structured(list); done {
		return err
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(r.out, "No threads")
		return err
	}

	if !r.pretty() {
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tSTATUS\tNODE\tUPDATED")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ThreadID, t.Status, t.Node, t.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	}

	idCol := lipgloss.NewStyle().Width(38)
	statusCol := lipgloss.NewStyle().Width(26)
	nodeCol := lipgloss.NewStyle().Width(32)
	rows := []string{HeaderStyle.UnsetMarginBottom().Render(
		idCol.Render("THREAD") + statusCol.Render("STATUS") + nodeCol.Render("NODE") + "UPDATED")}
	for _, t := range list {
		rows = append(rows,
			idCol.Render(string(t.ThreadID))+
				statusCol.Render(r.status(t.Status))+
				nodeCol.Render(string(t.Node))+
				MutedStyle.Render(t.UpdatedAt.Local().Format(time.DateTime)))
	}
	_, err := fmt.Fprintln(r.out, strings.Join(rows, "\n"))
	return err
}

// Report renders a finished report. Pretty mode renders the markdown; plain
// mode writes it verbatim.
func (r *Renderer) Report(id core.ThreadID, markdown string) error {
	if done, err := r.structured(map[string]string{"thread_id": string(id), "report": markdown}); done {
		return err
	}
	if !r.pretty() {
		_, err := io.WriteString(r.out, markdown)
		return err
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(r.width),
	)
	if err != nil {
		return err
	}
	rendered, err := md.Render(markdown)
	if err != nil {
		return err
	}
	_, err = io.WriteString(r.out, rendered)
	return err
}

// Doctor renders check results and the host summary.
func (r *Renderer) Doctor(results []diagnostics.Result, sys diagnostics.SystemInfo) error {
	if done, err := r.structured(map[string]any{"checks": results, "system": sys}); done {
		return err
	}

	var b strings.Builder
	for _, res := range results {
		label := fmt.Sprintf("[%s]", res.Status)
		if r.pretty() {
			label = checkStyle(res.Status).Render(label)
		}
		fmt.Fprintf(&b, "%-6s %s", label, res.Name)
		if res.Detail != "" {
			fmt.Fprintf(&b, ": %s", res.Detail)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(r.field("host", fmt.Sprintf("%s (%s %s)", sys.Hostname, sys.OS, sys.Platform)) + "\n")
	b.WriteString(r.field("go", sys.GoVersion) + "\n")
	b.WriteString(r.field("cpu", fmt.Sprintf("%d cores / %d threads, load %.2f", sys.CPUCores, sys.CPUThreads, sys.LoadAvg1)) + "\n")
	b.WriteString(r.field("memory", fmt.Sprintf("%.0f MB, %.0f%% used", sys.MemTotalMB, sys.MemUsedPct)) + "\n")
	b.WriteString(r.field("disk", fmt.Sprintf("%.1f GB free at %s", sys.DiskFreeGB, sys.DataDir)))
	_, err := fmt.Fprintln(r.out, b.String())
	return err
}

func (r *Renderer) block(s string) error {
	if r.pretty() {
		s = BoxStyle.Render(s)
	}
	_, err := fmt.Fprintln(r.out, s)
	return err
}
