// Package indexer maintains an in-memory index of the workspace tree
// and its symbols, and exposes the search and navigation tools over it.
package indexer

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxIndexedFileSize = 2 << 20 // files larger than this are listed but not scanned
	maxSearchResults   = 200
)

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"target":       true,
}

// FileInfo is one indexed workspace file.
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Language string `json:"language,omitempty"`
}

// Symbol is a definition extracted from source.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Path string `json:"path"`
	Line int    `json:"line"`
}

// symbolPatterns maps a file extension to the definition regexps used
// for it. Capture group 1 is the symbol name.
var symbolPatterns = map[string][]*regexp.Regexp{
	".go": {
		regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?(\w+)\s*\(`),
		regexp.MustCompile(`^type\s+(\w+)\s`),
		regexp.MustCompile(`^var\s+(\w+)\s`),
		regexp.MustCompile(`^const\s+(\w+)\s`),
	},
	".py": {
		regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`),
		regexp.MustCompile(`^\s*class\s+(\w+)\s*[(:]`),
	},
	".js": {
		regexp.MustCompile(`^\s*function\s+(\w+)\s*\(`),
		regexp.MustCompile(`^\s*class\s+(\w+)\s`),
		regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=`),
	},
	".rs": {
		regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+(\w+)`),
		regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+(\w+)`),
		regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+(\w+)`),
	},
}

var languageByExt = map[string]string{
	".go": "Go", ".py": "Python", ".js": "JavaScript", ".ts": "TypeScript",
	".tsx": "TypeScript", ".jsx": "JavaScript", ".rs": "Rust", ".java": "Java",
	".rb": "Ruby", ".c": "C", ".h": "C", ".cpp": "C++", ".sh": "Shell",
	".md": "Markdown", ".yaml": "YAML", ".yml": "YAML", ".json": "JSON",
	".sql": "SQL", ".html": "HTML", ".css": "CSS",
}

func kindForPattern(ext string, idx int) string {
	switch ext {
	case ".go":
		return [...]string{"func", "type", "var", "const"}[idx]
	case ".py":
		return [...]string{"function", "class"}[idx]
	case ".js":
		return [...]string{"function", "class", "const"}[idx]
	case ".rs":
		return [...]string{"fn", "struct", "enum"}[idx]
	}
	return "symbol"
}

// Index is the scanned view of the workspace. Rebuilds swap the whole
// snapshot under the lock.
type Index struct {
	root string

	mu      sync.RWMutex
	files   []FileInfo
	symbols []Symbol
	builtAt time.Time
}

func New(root string) *Index {
	return &Index{root: root}
}

// Rebuild rescans the tree and replaces the snapshot.
func (ix *Index) Rebuild() (int, int, error) {
	var files []FileInfo
	var symbols []Symbol

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != ix.root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(ix.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ext := strings.ToLower(filepath.Ext(name))
		files = append(files, FileInfo{Path: rel, Size: info.Size(), Language: languageByExt[ext]})

		patterns, ok := symbolPatterns[ext]
		if !ok || info.Size() > maxIndexedFileSize {
			return nil
		}
		symbols = append(symbols, extractSymbols(path, rel, ext, patterns)...)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("indexer: walk %s: %w", ix.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	ix.mu.Lock()
	ix.files = files
	ix.symbols = symbols
	ix.builtAt = time.Now()
	ix.mu.Unlock()
	return len(files), len(symbols), nil
}

func extractSymbols(abs, rel, ext string, patterns []*regexp.Regexp) []Symbol {
	f, err := os.Open(abs)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Symbol
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for i, pat := range patterns {
			if m := pat.FindStringSubmatch(line); m != nil {
				out = append(out, Symbol{
					Name: m[1], Kind: kindForPattern(ext, i), Path: rel, Line: lineNo,
				})
				break
			}
		}
	}
	return out
}

// ensureBuilt lazily builds the snapshot on first use.
func (ix *Index) ensureBuilt() error {
	ix.mu.RLock()
	built := !ix.builtAt.IsZero()
	ix.mu.RUnlock()
	if built {
		return nil
	}
	_, _, err := ix.Rebuild()
	return err
}

// Files returns the indexed files, optionally filtered by a path
// substring.
func (ix *Index) Files(filter string) ([]FileInfo, error) {
	if err := ix.ensureBuilt(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if filter == "" {
		return append([]FileInfo(nil), ix.files...), nil
	}
	var out []FileInfo
	for _, f := range ix.files {
		if strings.Contains(f.Path, filter) {
			out = append(out, f)
		}
	}
	return out, nil
}

// SearchMatch is one matching line from a content search.
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Search greps indexed files for a regexp.
func (ix *Index) Search(pattern string, limit int) ([]SearchMatch, error) {
	if err := ix.ensureBuilt(); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("indexer: bad pattern: %w", err)
	}
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	ix.mu.RLock()
	files := append([]FileInfo(nil), ix.files...)
	ix.mu.RUnlock()

	var out []SearchMatch
	for _, f := range files {
		if f.Size > maxIndexedFileSize {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(ix.root, filepath.FromSlash(f.Path)))
		if err != nil || bytes.IndexByte(raw, 0) >= 0 {
			continue
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if re.MatchString(line) {
				out = append(out, SearchMatch{Path: f.Path, Line: i + 1, Text: strings.TrimRight(line, "\r")})
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// Symbols returns definitions whose name contains the query
// (case-insensitive), exact matches first.
func (ix *Index) Symbols(query string) ([]Symbol, error) {
	if err := ix.ensureBuilt(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(query)
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var exact, partial []Symbol
	for _, s := range ix.symbols {
		switch {
		case strings.EqualFold(s.Name, query):
			exact = append(exact, s)
		case lower != "" && strings.Contains(strings.ToLower(s.Name), lower):
			partial = append(partial, s)
		}
	}
	return append(exact, partial...), nil
}

// Definition returns the first exact-name definition.
func (ix *Index) Definition(name string) (*Symbol, error) {
	matches, err := ix.Symbols(name)
	if err != nil {
		return nil, err
	}
	for _, s := range matches {
		if strings.EqualFold(s.Name, name) {
			sym := s
			return &sym, nil
		}
	}
	return nil, fmt.Errorf("indexer: no definition for %q", name)
}

// References greps for word-boundary uses of a symbol name.
func (ix *Index) References(name string, limit int) ([]SearchMatch, error) {
	return ix.Search(`\b`+regexp.QuoteMeta(name)+`\b`, limit)
}

// Summary describes the project at a glance.
type Summary struct {
	Root      string         `json:"root"`
	Files     int            `json:"files"`
	Symbols   int            `json:"symbols"`
	Languages map[string]int `json:"languages"`
	TopDirs   []string       `json:"top_dirs"`
	Readme    string         `json:"readme,omitempty"`
}

func (ix *Index) Summarize() (*Summary, error) {
	if err := ix.ensureBuilt(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	languages := map[string]int{}
	dirs := map[string]bool{}
	readme := ""
	for _, f := range ix.files {
		if f.Language != "" {
			languages[f.Language]++
		}
		if dir, _, ok := strings.Cut(f.Path, "/"); ok {
			dirs[dir] = true
		}
		if readme == "" && strings.EqualFold(f.Path, "README.md") {
			if raw, err := os.ReadFile(filepath.Join(ix.root, f.Path)); err == nil {
				readme = firstLines(string(raw), 20)
			}
		}
	}
	topDirs := make([]string, 0, len(dirs))
	for d := range dirs {
		topDirs = append(topDirs, d)
	}
	sort.Strings(topDirs)

	return &Summary{
		Root:      ix.root,
		Files:     len(ix.files),
		Symbols:   len(ix.symbols),
		Languages: languages,
		TopDirs:   topDirs,
		Readme:    readme,
	}, nil
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
