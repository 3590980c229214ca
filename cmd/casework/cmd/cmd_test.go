package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/casework/internal/config"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/casework/internal/fsutil"
)

// writeTestConfig writes a config using the in-memory checkpoint store and an
// index under dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "casework.yaml")
	body := "checkpoint:\n  backend: memory\n" +
		"search:\n  index_path: " + filepath.Join(dir, "index", "docs.db") + "\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
		outputMode = "auto"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, ExitCode(core.ErrValidation(core.CodeInvalidThreadID, "bad id")))
	assert.Equal(t, 2, ExitCode(core.ErrNotFound("thread", "t-1")))
	assert.Equal(t, 2, ExitCode(core.ErrState(core.CodeNotAwaiting, "not awaiting")))
	assert.Equal(t, 2, ExitCode(core.ErrContractViolation(core.CodeInvalidDecision, "bad")))
	assert.Equal(t, 1, ExitCode(core.ErrProvider(core.CodeCompletionFailed, "down", true)))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123", "2024-01-15")
	t.Cleanup(func() { SetVersion("", "", "") })

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "casework v1.2.3")
	assert.Contains(t, out, "commit: abc123")
	assert.Contains(t, out, "built:  2024-01-15")
}

func TestReadBackground(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		got, err := readBackground([]string{"A slipped on ice."}, "", nil, false)
		require.NoError(t, err)
		assert.Equal(t, "A slipped on ice.", got)
	})

	t.Run("stdin dash", func(t *testing.T) {
		got, err := readBackground([]string{"-"}, "", strings.NewReader("from stdin"), false)
		require.NoError(t, err)
		assert.Equal(t, "from stdin", got)
	})

	t.Run("piped stdin without argument", func(t *testing.T) {
		got, err := readBackground(nil, "", strings.NewReader("piped"), true)
		require.NoError(t, err)
		assert.Equal(t, "piped", got)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "case.txt")
		require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
		got, err := readBackground(nil, path, nil, false)
		require.NoError(t, err)
		assert.Equal(t, "from file", got)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := readBackground(nil, "", nil, false)
		assert.True(t, core.IsCategory(err, core.ErrCatValidation))

		_, err = readBackground([]string{"   "}, "", nil, false)
		assert.True(t, core.IsCategory(err, core.ErrCatValidation))

		_, err = readBackground([]string{"x"}, "case.txt", nil, false)
		assert.True(t, core.IsCategory(err, core.ErrCatValidation))

		_, err = readBackground(nil, filepath.Join(t.TempDir(), "missing.txt"), nil, false)
		assert.Error(t, err)
	})
}

func TestApplyStartFlags(t *testing.T) {
	cmd := &cobra.Command{}
	var queries, depth, witnesses int
	var structure string
	cmd.Flags().IntVar(&queries, "queries", 0, "")
	cmd.Flags().IntVar(&depth, "depth", 0, "")
	cmd.Flags().IntVar(&witnesses, "witnesses", -1, "")
	cmd.Flags().StringVar(&structure, "structure", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--depth", "4", "--witnesses", "0"}))

	startDepth, startWitnesses, startNoDeposition = 4, 0, true
	t.Cleanup(func() { startDepth, startWitnesses, startNoDeposition = 0, -1, false })

	base := core.DefaultAnalysisOptions()
	got := applyStartFlags(cmd, base)
	assert.Equal(t, base.NumberOfQueries, got.NumberOfQueries)
	assert.Equal(t, 4, got.MaxSearchDepth)
	assert.Equal(t, 0, got.MaxWitnesses)
	assert.Equal(t, base.AnalysisStructure, got.AnalysisStructure)
	assert.False(t, got.IncludeDepositionQuestions)
}

func TestDecisionFromFlags(t *testing.T) {
	d, err := decisionFromFlags(true, "")
	require.NoError(t, err)
	assert.Equal(t, core.Approve(), d)

	d, err = decisionFromFlags(false, "add a damages category")
	require.NoError(t, err)
	assert.Equal(t, core.Revise("add a damages category"), d)

	_, err = decisionFromFlags(false, "  ")
	assert.True(t, core.IsCategory(err, core.ErrCatContract))
}

func TestFilterThreads(t *testing.T) {
	list := []core.ThreadSummary{
		{ThreadID: "smith-v-jones", Status: core.StatusCompleted},
		{ThreadID: "acme-arbitration", Status: core.StatusAwaitingApproval},
		{ThreadID: "smith-estate", Status: core.StatusAwaitingApproval},
	}

	assert.Len(t, filterThreads(list, "", ""), 3)

	waiting := filterThreads(list, "", core.StatusAwaitingApproval)
	require.Len(t, waiting, 2)
	assert.Equal(t, core.ThreadID("acme-arbitration"), waiting[0].ThreadID)

	smith := filterThreads(list, "smith", "")
	require.Len(t, smith, 2)
	for _, s := range smith {
		assert.True(t, strings.HasPrefix(string(s.ThreadID), "smith"))
	}

	both := filterThreads(list, "smith", core.StatusAwaitingApproval)
	require.Len(t, both, 1)
	assert.Equal(t, core.ThreadID("smith-estate"), both[0].ThreadID)

	assert.Empty(t, filterThreads(list, "zzz", ""))
}

func TestDocumentsFor(t *testing.T) {
	files := []fsutil.File{
		{Rel: "emails/notice.eml", Path: "/case/emails/notice.eml", Content: "hello"},
		{Rel: "report.md", Path: "/case/report.md", Content: "# Report"},
	}

	docs := documentsFor(files, "")
	require.Len(t, docs, 2)
	assert.Equal(t, "emails/notice.eml", docs[0].ID)
	assert.Equal(t, "notice", docs[0].Title)
	assert.Equal(t, "/case/emails/notice.eml", docs[0].Source)
	assert.Equal(t, "hello", docs[0].Content)

	docs = documentsFor(files, "matter-7/")
	assert.Equal(t, "matter-7/report.md", docs[1].ID)
	assert.Equal(t, "report", docs[1].Title)
}

func TestNormalizeExts(t *testing.T) {
	assert.Equal(t, []string{".txt", ".md"}, normalizeExts([]string{"TXT", " .md ", ""}))
	assert.Empty(t, normalizeExts(nil))
}

func TestMaskSetting(t *testing.T) {
	settings := map[string]any{
		"provider":   map[string]any{"api_key": "sk-secret", "model": "m"},
		"checkpoint": map[string]any{"redis": map[string]any{"password": ""}},
	}
	maskSetting(settings, "provider", "api_key")
	maskSetting(settings, "checkpoint", "redis", "password")
	maskSetting(settings, "missing", "key")

	assert.Equal(t, "********", settings["provider"].(map[string]any)["api_key"])
	assert.Equal(t, "m", settings["provider"].(map[string]any)["model"])
	assert.Equal(t, "", settings["checkpoint"].(map[string]any)["redis"].(map[string]any)["password"])
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".casework.yaml")
	require.NoError(t, writeDefaultConfig(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))

	err = writeDefaultConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, writeDefaultConfig(path, true))
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.md")
	require.NoError(t, writeReport(path, "# Report\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", string(data))
}

func TestDoctorProbes(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Checkpoint: config.CheckpointConfig{Backend: "memory", LockTTL: time.Second},
		Search:     config.SearchConfig{IndexPath: filepath.Join(dir, "docs.db")},
		Provider:   config.ProviderConfig{BaseURL: "http://localhost:1", Model: "m"},
	}

	results := diagnostics.RunChecks(context.Background(), 5*time.Second, doctorProbes(cfg)...)
	byName := map[string]diagnostics.Result{}
	for _, r := range results {
		byName[r.Name] = r
	}

	assert.Equal(t, diagnostics.StatusOK, byName["config"].Status)
	assert.Equal(t, diagnostics.StatusOK, byName["checkpoint store"].Status)
	assert.Contains(t, byName["checkpoint store"].Detail, "0 threads")
	assert.Equal(t, diagnostics.StatusWarn, byName["document index"].Status)
	assert.Equal(t, diagnostics.StatusWarn, byName["provider credentials"].Status)
	assert.True(t, diagnostics.Healthy(results))
}

func TestCLI_IndexAndThreads(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	docs := filepath.Join(dir, "case")
	require.NoError(t, os.MkdirAll(docs, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "notice.txt"), []byte("Notice of breach sent March 3."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "photo.png"), []byte{0x89, 0x50}, 0o600))

	out, err := runCLI(t, "--config", cfgPath, "index", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 1 documents")
	assert.Contains(t, out, "1 documents in")

	out, err = runCLI(t, "--config", cfgPath, "-o", "json", "threads")
	require.NoError(t, err)
	var list []core.ThreadSummary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Empty(t, list)
}

func TestCLI_StatusErrors(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir())

	_, err := runCLI(t, "--config", cfgPath, "-o", "plain", "status", "not a valid id")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	assert.Equal(t, 2, ExitCode(err))

	_, err = runCLI(t, "--config", cfgPath, "-o", "plain", "status", "missing-thread")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestCLI_ResumeRequiresDecision(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir())
	_, err := runCLI(t, "--config", cfgPath, "resume", "some-thread")
	require.Error(t, err)
}
