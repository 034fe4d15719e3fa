package chunk

import (
	"strings"

	"github.com/agentbrain/agentbrain/internal/model"
)

// symbolExtractor pulls symbol facts (name, parameters, return type,
// decorators, docstring) out of AST nodes, per language.
type symbolExtractor struct {
	registry *LanguageRegistry
}

func newSymbolExtractor(registry *LanguageRegistry) *symbolExtractor {
	return &symbolExtractor{registry: registry}
}

// extract builds a Symbol for a declaration node, or nil when the node has
// no extractable name. insideClass flags Python functions nested in a class
// so they classify as methods.
func (e *symbolExtractor) extract(n *Node, source []byte, kind model.SymbolKind, language string, insideClass bool) *Symbol {
	node := n
	var decorators []string

	// Python wraps decorated declarations in decorated_definition; unwrap
	// and collect the decorator lines.
	if language == "python" && n.Type == "decorated_definition" {
		for _, child := range n.Children {
			switch child.Type {
			case "decorator":
				decorators = append(decorators, strings.TrimPrefix(child.GetContent(source), "@"))
			case "function_definition", "class_definition":
				node = child
			}
		}
		if node == n {
			return nil
		}
		if node.Type == "class_definition" {
			kind = model.SymbolKindClass
		}
	}

	if kind == model.SymbolKindFunction && insideClass {
		kind = model.SymbolKindMethod
	}

	name := e.extractName(node, source, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Kind:       kind,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Docstring:  e.extractDocstring(node, source, language),
		Parameters: e.extractParameters(node, source, language),
		ReturnType: e.extractReturnType(node, source, language),
		Decorators: decorators,
	}
}

// extractName finds the declared identifier for a node.
func (e *symbolExtractor) extractName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return e.extractGoName(n, source)
	default:
		for _, child := range n.Children {
			switch child.Type {
			case "identifier", "type_identifier", "property_identifier":
				return child.GetContent(source)
			}
		}
	}
	return ""
}

func (e *symbolExtractor) extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.GetContent(source)
		}
	case "method_declaration":
		if id := n.FindChildByType("field_identifier"); id != nil {
			return id.GetContent(source)
		}
	case "type_declaration":
		if spec := n.FindChildByType("type_spec"); spec != nil {
			if id := spec.FindChildByType("type_identifier"); id != nil {
				return id.GetContent(source)
			}
		}
	}
	return ""
}

// extractParameters returns the declared parameter names and types as raw
// strings, one per parameter.
func (e *symbolExtractor) extractParameters(n *Node, source []byte, language string) []string {
	var paramNode *Node
	switch language {
	case "go":
		paramNode = n.FindChildByType("parameter_list")
	case "python":
		paramNode = n.FindChildByType("parameters")
	default:
		paramNode = n.FindChildByType("formal_parameters")
	}
	if paramNode == nil {
		return nil
	}

	content := strings.TrimSpace(paramNode.GetContent(source))
	content = strings.TrimPrefix(content, "(")
	content = strings.TrimSuffix(content, ")")
	if content == "" {
		return nil
	}

	var params []string
	for _, part := range splitTopLevel(content, ',') {
		part = strings.TrimSpace(part)
		if part != "" && part != "self" && part != "cls" {
			params = append(params, part)
		}
	}
	return params
}

// extractReturnType returns the declared return type, when present.
func (e *symbolExtractor) extractReturnType(n *Node, source []byte, language string) string {
	switch language {
	case "python":
		// def f(...) -> T:
		if t := n.FindChildByType("type"); t != nil {
			return strings.TrimSpace(t.GetContent(source))
		}
	case "go":
		// Result is everything between the parameter list and the body.
		params := n.FindChildByType("parameter_list")
		body := n.FindChildByType("block")
		if params == nil || body == nil {
			return ""
		}
		// Methods have two parameter lists (receiver + params); take the last.
		var lastParams *Node
		for _, child := range n.Children {
			if child.Type == "parameter_list" {
				lastParams = child
			}
		}
		if lastParams == nil || lastParams.EndByte >= body.StartByte {
			return ""
		}
		return strings.TrimSpace(string(source[lastParams.EndByte:body.StartByte]))
	default:
		// TS: type_annotation after the parameter list.
		if t := n.FindChildByType("type_annotation"); t != nil {
			return strings.TrimSpace(strings.TrimPrefix(t.GetContent(source), ":"))
		}
	}
	return ""
}

// extractDocstring finds the documentation attached to a declaration:
// a leading string literal for Python, preceding comment lines otherwise.
func (e *symbolExtractor) extractDocstring(n *Node, source []byte, language string) string {
	if language == "python" {
		return extractPythonDocstring(n, source)
	}
	return extractLeadingComment(n, source)
}

// extractPythonDocstring returns the first string expression in the body.
func extractPythonDocstring(n *Node, source []byte) string {
	body := n.FindChildByType("block")
	if body == nil {
		return ""
	}
	for _, stmt := range body.Children {
		if stmt.Type != "expression_statement" {
			continue
		}
		if str := stmt.FindChildByType("string"); str != nil {
			doc := str.GetContent(source)
			doc = strings.Trim(doc, "\"'")
			return strings.TrimSpace(doc)
		}
		break
	}
	return ""
}

// extractLeadingComment collects the contiguous run of // comment lines
// immediately above the declaration.
func extractLeadingComment(n *Node, source []byte) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var commentLines []string
	pos := lineStart - 1 // position of the newline before the declaration

	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if strings.HasPrefix(prevLine, "//") {
			commentLines = append([]string{strings.TrimSpace(strings.TrimPrefix(prevLine, "//"))}, commentLines...)
			continue
		}
		break
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// extractImports returns the modules imported at the top of the file.
func extractImports(tree *Tree, config *LanguageConfig) []string {
	importTypes := make(map[string]bool, len(config.ImportTypes))
	for _, t := range config.ImportTypes {
		importTypes[t] = true
	}

	var imports []string
	for _, node := range tree.Root.Children {
		if !importTypes[node.Type] {
			continue
		}
		for _, name := range importedModules(node, tree.Source, config.Name) {
			imports = append(imports, name)
		}
	}
	return imports
}

// importedModules extracts module names from a single import node.
func importedModules(n *Node, source []byte, language string) []string {
	var names []string
	switch language {
	case "go":
		n.Walk(func(child *Node) bool {
			if child.Type == "interpreted_string_literal" {
				names = append(names, strings.Trim(child.GetContent(source), `"`))
			}
			return true
		})
	case "python":
		n.Walk(func(child *Node) bool {
			if child.Type == "dotted_name" || child.Type == "aliased_import" {
				name := child.GetContent(source)
				if child.Type == "aliased_import" {
					name = strings.TrimSpace(strings.SplitN(name, " as ", 2)[0])
				}
				names = append(names, name)
				return false
			}
			return true
		})
	default:
		// JS/TS: the string after "from", or a bare import string.
		n.Walk(func(child *Node) bool {
			if child.Type == "string" {
				names = append(names, strings.Trim(child.GetContent(source), "\"'`"))
			}
			return true
		})
	}
	return dedupeStrings(names)
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// brackets, so parameter lists with generic or tuple types split correctly.
func splitTopLevel(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	depth := 0

	for _, r := range s {
		switch r {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			if depth > 0 {
				depth--
			}
		}
		if r == sep && depth == 0 {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// dedupeStrings removes duplicates preserving first-seen order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
