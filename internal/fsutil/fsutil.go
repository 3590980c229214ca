// Package fsutil reads case material from disk for indexing.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultExtensions are the file types collected when none are given.
var DefaultExtensions = []string{".txt", ".md", ".markdown", ".eml", ".csv"}

// File is one readable text file found under a root.
type File struct {
	// Rel is the slash-separated path relative to the root.
	Rel     string
	Path    string
	Content string
}

// Skipped explains why a file was left out.
type Skipped struct {
	Rel    string
	Reason string
}

// ReadFileScoped reads a file through a root opened at its directory, so the
// read cannot escape that directory via symlinks.
func ReadFileScoped(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	dir, base := filepath.Dir(cleaned), filepath.Base(cleaned)
	if base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// CollectText walks root and returns the text files whose extension is in
// exts, sorted by path. Hidden entries are skipped, as are files larger than
// maxBytes (when positive) and files that are not valid UTF-8.
func CollectText(root string, exts []string, maxBytes int64) ([]File, []Skipped, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	wanted := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		wanted[e] = true
	}

	var (
		files   []File
		skipped []Skipped
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !wanted[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			skipped = append(skipped, Skipped{Rel: rel, Reason: fmt.Sprintf("larger than %d bytes", maxBytes)})
			return nil
		}
		data, err := ReadFileScoped(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			skipped = append(skipped, Skipped{Rel: rel, Reason: "not UTF-8 text"})
			return nil
		}
		files = append(files, File{Rel: rel, Path: path, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, skipped, nil
}
