package pipeline

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentbrain/agentbrain/internal/backend"
	"github.com/agentbrain/agentbrain/internal/chunk"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/gitignore"
	"github.com/agentbrain/agentbrain/internal/model"
)

// DefaultMaxFileSize skips files larger than this; big blobs are almost
// always generated or binary.
const DefaultMaxFileSize = 2 * 1024 * 1024

// defaultExcludedDirs are never descended into.
var defaultExcludedDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "bower_components": true,
	"__pycache__": true, ".venv": true, "venv": true, ".tox": true,
	"dist": true, "build": true, "target": true, "out": true,
	".idea": true, ".vscode": true, ".cache": true,
}

// defaultExcludedSuffixes are skipped by file name.
var defaultExcludedSuffixes = []string{
	".min.js", ".min.css", ".map", ".lock",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".pdf",
	".zip", ".tar", ".gz", ".so", ".dylib", ".dll", ".exe", ".bin",
	".woff", ".woff2", ".ttf",
}

// docExtensions map to the doc chunker.
var docExtensions = map[string]bool{
	".md": true, ".markdown": true, ".rst": true, ".txt": true,
}

// FileEntry is one file discovered by the loader.
type FileEntry struct {
	// Path is relative to the scanned folder, slash-separated. It is the
	// chunk source path.
	Path string

	AbsPath    string
	Language   string // empty for docs and unsupported code
	SourceType model.SourceType
	Size       int64
}

// Loader walks a folder and classifies indexable files.
type Loader struct {
	registry    *chunk.LanguageRegistry
	maxFileSize int64
}

func NewLoader() *Loader {
	return &Loader{
		registry:    chunk.DefaultRegistry(),
		maxFileSize: DefaultMaxFileSize,
	}
}

// LoadOptions tunes one scan.
type LoadOptions struct {
	// IncludeCode false restricts the scan to doc files.
	IncludeCode bool

	// Patterns, when set, keeps only files matching at least one glob.
	Patterns []string
}

// Scan walks root and returns the indexable files in deterministic
// (lexical) order.
func (l *Loader) Scan(root string, opts LoadOptions) ([]FileEntry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeInvalidPath, fmt.Sprintf("resolve %s: %v", root, err), err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeFileNotFound, fmt.Sprintf("stat %s: %v", absRoot, err), err)
	}
	if !info.IsDir() {
		return nil, braerr.New(braerr.ErrCodeInvalidPath,
			fmt.Sprintf("%s is not a directory", absRoot), nil)
	}

	ignore := gitignore.New()

	var entries []FileEntry
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		name := d.Name()
		if d.IsDir() {
			if p != absRoot {
				if defaultExcludedDirs[name] || strings.HasPrefix(name, ".") {
					return fs.SkipDir
				}
				if ignore.Match(rel, true) {
					return fs.SkipDir
				}
			}
			// Pre-order walk loads parent .gitignore rules before any
			// child's, matching git precedence.
			gi := filepath.Join(p, ".gitignore")
			if _, statErr := os.Stat(gi); statErr == nil {
				base := rel
				if p == absRoot {
					base = ""
				}
				_ = ignore.AddFromFile(gi, base)
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || hasExcludedSuffix(name) {
			return nil
		}
		if ignore.Match(rel, false) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > l.maxFileSize {
			return nil
		}

		if len(opts.Patterns) > 0 && !backend.MatchesAnyGlob(opts.Patterns, rel) {
			return nil
		}

		entry, ok := l.classify(rel, p, fi.Size())
		if !ok {
			return nil
		}
		if !opts.IncludeCode && entry.SourceType != model.SourceTypeDoc {
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("walk %s: %v", absRoot, err), err)
	}
	return entries, nil
}

// classify maps a file to doc/code/test by extension and name.
func (l *Loader) classify(rel, abs string, size int64) (FileEntry, bool) {
	ext := strings.ToLower(filepath.Ext(rel))

	if docExtensions[ext] {
		return FileEntry{
			Path:       rel,
			AbsPath:    abs,
			SourceType: model.SourceTypeDoc,
			Size:       size,
		}, true
	}

	language := l.registry.LanguageForExtension(ext)
	if language == "" {
		return FileEntry{}, false
	}

	sourceType := model.SourceTypeCode
	if isTestFile(rel) {
		sourceType = model.SourceTypeTest
	}
	return FileEntry{
		Path:       rel,
		AbsPath:    abs,
		Language:   language,
		SourceType: sourceType,
		Size:       size,
	}, true
}

// isTestFile detects common test naming conventions across the supported
// languages.
func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return false
}

func hasExcludedSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range defaultExcludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// ReadFile loads content, rejecting binary files by null-byte sniff.
func ReadFile(entry FileEntry) ([]byte, error) {
	content, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		if os.IsPermission(err) {
			return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("read %s: %v", entry.Path, err), err)
		}
		return nil, braerr.New(braerr.ErrCodeFileNotFound, fmt.Sprintf("read %s: %v", entry.Path, err), err)
	}
	sniff := content
	if len(sniff) > 8000 {
		sniff = sniff[:8000]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, nil // binary, silently skipped
	}
	return content, nil
}
