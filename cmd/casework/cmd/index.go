package cmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/casework/internal/adapters/search"
	"github.com/hugo-lorenzo-mato/casework/internal/fsutil"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

var (
	indexExts    []string
	indexMaxSize int64
	indexPrefix  string
	indexRemove  []string
)

var indexCmd = &cobra.Command{
	Use:   "index [dir...]",
	Short: "Add case documents to the search index",
	Long: `Index the text files under each directory so analysis threads can search
them. Re-indexing a file replaces its previous content.

Document ids are the file paths relative to the directory, optionally under
--prefix, so the same tree can be indexed for several matters.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexExts, "ext", nil, "file extensions to index (default .txt,.md,.markdown,.eml,.csv)")
	indexCmd.Flags().Int64Var(&indexMaxSize, "max-size", 2<<20, "skip files larger than this many bytes")
	indexCmd.Flags().StringVar(&indexPrefix, "prefix", "", "prefix for document ids")
	indexCmd.Flags().StringSliceVar(&indexRemove, "remove", nil, "document ids to remove from the index")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(indexRemove) == 0 {
		return fmt.Errorf("nothing to do: give a directory or --remove")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	idx, err := search.OpenIndex(cfg.Search.IndexPath, logger)
	if err != nil {
		return fmt.Errorf("opening document index: %w", err)
	}
	defer idx.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	for _, id := range indexRemove {
		if err := idx.Remove(ctx, id); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		fmt.Fprintf(out, "removed %s\n", id)
	}

	for _, dir := range args {
		files, skipped, err := fsutil.CollectText(dir, normalizeExts(indexExts), indexMaxSize)
		if err != nil {
			return err
		}
		for _, s := range skipped {
			logger.Warn("skipping file", "path", s.Rel, "reason", s.Reason)
		}
		docs := documentsFor(files, indexPrefix)
		if err := idx.Add(ctx, docs...); err != nil {
			return err
		}
		fmt.Fprintf(out, "indexed %d documents from %s (%d skipped)\n", len(docs), dir, len(skipped))
	}

	n, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d documents in %s\n", n, cfg.Search.IndexPath)
	return nil
}

// documentsFor maps collected files to index documents.
func documentsFor(files []fsutil.File, prefix string) []search.Document {
	docs := make([]search.Document, 0, len(files))
	for _, f := range files {
		id := f.Rel
		if prefix != "" {
			id = strings.TrimSuffix(prefix, "/") + "/" + f.Rel
		}
		base := path.Base(f.Rel)
		docs = append(docs, search.Document{
			ID:      id,
			Title:   strings.TrimSuffix(base, path.Ext(base)),
			Source:  f.Path,
			Content: f.Content,
		})
	}
	return docs
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
