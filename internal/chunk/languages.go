package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig drives symbol detection for one language: which AST node
// types define functions, methods, and classes, and which carry imports.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that define free functions.
	FunctionTypes []string

	// Node types that define methods.
	MethodTypes []string

	// Node types that define classes (or the closest equivalent: Go type
	// declarations, TS interfaces).
	ClassTypes []string

	// Node types that carry import statements at the top level.
	ImportTypes []string
}

// LanguageRegistry manages supported languages and their configurations.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the default language set.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerPython()
	r.registerTypeScript()
	r.registerJavaScript()

	return r
}

// GetByExtension returns the language configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}

	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// LanguageForExtension maps a file extension to a language identifier.
// Returns "" for unsupported extensions.
func (r *LanguageRegistry) LanguageForExtension(ext string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return r.extToLang[ext]
}

// SupportedExtensions returns all supported file extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

// registerLanguage adds a language to the registry.
func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang

	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.registerLanguage(&LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"type_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.registerLanguage(&LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition", "decorated_definition"},
		// Python methods are function_definition nodes nested in a class;
		// the chunker reclassifies by nesting.
		MethodTypes: []string{},
		ClassTypes:  []string{"class_definition"},
		ImportTypes: []string{"import_statement", "import_from_statement"},
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	ts := &LanguageConfig{
		Name:          "typescript",
		Extensions:    []string{".ts"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration", "interface_declaration"},
		ImportTypes:   []string{"import_statement"},
	}
	r.registerLanguage(ts, typescript.GetLanguage())

	tsxCfg := *ts
	tsxCfg.Name = "tsx"
	tsxCfg.Extensions = []string{".tsx"}
	r.registerLanguage(&tsxCfg, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	js := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ImportTypes:   []string{"import_statement"},
	}
	r.registerLanguage(js, javascript.GetLanguage())

	jsxCfg := *js
	jsxCfg.Name = "jsx"
	jsxCfg.Extensions = []string{".jsx"}
	r.registerLanguage(&jsxCfg, javascript.GetLanguage())
}

// defaultRegistry is the global language registry.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the global language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
