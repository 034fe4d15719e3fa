package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Tree is a parsed syntax tree decoupled from the tree-sitter handle, so the
// rest of the package works on plain values.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a node in the syntax tree.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// Parser wraps tree-sitter for AST parsing.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser backed by the given language registry.
func NewParser(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source code and returns the syntax tree.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse source: nil tree")
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode converts a tree-sitter node to our Node type.
func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}

	return node
}

// GetContent returns the source content for a node.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType finds the first child with the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// Walk traverses the tree depth-first and calls fn for each node. Returning
// false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
