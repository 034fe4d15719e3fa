package chunk

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentbrain/agentbrain/internal/model"
)

// DocChunker splits markdown and plain-text documents along heading
// structure. Each section under a heading becomes a chunk carrying the full
// heading path; sections over the token budget are split at paragraph
// boundaries with a sliding overlap.
type DocChunker struct {
	maxTokens     int
	overlapTokens int
}

// NewDocChunker creates a doc chunker with the default budgets.
func NewDocChunker() *DocChunker {
	return &DocChunker{
		maxTokens:     DefaultMaxChunkTokens,
		overlapTokens: DefaultOverlapTokens,
	}
}

var _ Chunker = (*DocChunker)(nil)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// section is a run of content under one heading.
type section struct {
	headingPath []string
	startLine   int // 1-indexed
	lines       []string
}

// Chunk splits a document into heading-aligned chunks with sequential
// indices, so IDs are stable for unchanged content.
func (c *DocChunker) Chunk(_ context.Context, file *FileInput) ([]model.Chunk, error) {
	content := stripFrontmatter(string(file.Content))
	sections := splitSections(content)

	var chunks []model.Chunk
	index := 0
	for _, sec := range sections {
		text := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if text == "" {
			continue
		}
		if estimateTokens(text) <= c.maxTokens {
			chunks = append(chunks, c.buildChunk(file, sec, text, sec.startLine, sec.startLine+len(sec.lines)-1, &index))
			continue
		}
		chunks = append(chunks, c.splitSection(file, sec, &index)...)
	}
	return chunks, nil
}

// splitSection breaks an oversized section into paragraph-packed chunks with
// overlap carried from the tail of each chunk into the next.
func (c *DocChunker) splitSection(file *FileInput, sec section, index *int) []model.Chunk {
	paragraphs := splitParagraphs(sec.lines, sec.startLine)

	var chunks []model.Chunk
	var current []paragraph
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := joinParagraphs(current)
		chunks = append(chunks, c.buildChunk(file, sec, text, current[0].startLine, current[len(current)-1].endLine, index))

		// Carry trailing paragraphs forward as overlap.
		var overlap []paragraph
		overlapTokens := 0
		for i := len(current) - 1; i > 0; i-- {
			t := estimateTokens(current[i].text)
			if overlapTokens+t > c.overlapTokens {
				break
			}
			overlap = append([]paragraph{current[i]}, overlap...)
			overlapTokens += t
		}
		current = overlap
		currentTokens = overlapTokens
	}

	for _, p := range paragraphs {
		t := estimateTokens(p.text)
		if currentTokens > 0 && currentTokens+t > c.maxTokens {
			flush()
		}
		current = append(current, p)
		currentTokens += t
	}
	if len(current) > 0 {
		text := joinParagraphs(current)
		chunks = append(chunks, c.buildChunk(file, sec, text, current[0].startLine, current[len(current)-1].endLine, index))
	}
	return chunks
}

func (c *DocChunker) buildChunk(file *FileInput, sec section, text string, startLine, endLine int, index *int) model.Chunk {
	i := *index
	*index++

	return model.Chunk{
		ID:         model.ChunkID(file.Path, i),
		Text:       text,
		TokenCount: estimateTokens(text),
		Index:      i,
		Metadata: model.ChunkMetadata{
			Source:      file.Path,
			SourceType:  file.SourceType,
			StartLine:   startLine,
			EndLine:     endLine,
			HeadingPath: append([]string(nil), sec.headingPath...),
		},
	}
}

// splitSections walks the document line by line and opens a new section at
// every heading, tracking the heading stack to build heading paths.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")

	var sections []section
	var stack []string // heading titles by level, stack[i] is level i+1
	current := section{startLine: 1}
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		m := headingRe.FindStringSubmatch(line)
		if m == nil || inFence {
			current.lines = append(current.lines, line)
			continue
		}

		if len(current.lines) > 0 {
			sections = append(sections, current)
		}

		level := len(m[1])
		title := strings.TrimSpace(m[2])
		if level <= len(stack) {
			stack = stack[:level-1]
		}
		for len(stack) < level-1 {
			stack = append(stack, "")
		}
		stack = append(stack, title)

		path := make([]string, 0, len(stack))
		for _, h := range stack {
			if h != "" {
				path = append(path, h)
			}
		}

		current = section{
			headingPath: path,
			startLine:   i + 1,
			lines:       []string{line},
		}
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

type paragraph struct {
	text      string
	startLine int
	endLine   int
}

// splitParagraphs splits section lines into blank-line-delimited paragraphs.
// Fenced code blocks are kept whole.
func splitParagraphs(lines []string, firstLine int) []paragraph {
	var paragraphs []paragraph
	var buf []string
	start := 0
	inFence := false

	flush := func(end int) {
		text := strings.TrimRight(strings.Join(buf, "\n"), "\n ")
		if strings.TrimSpace(text) != "" {
			paragraphs = append(paragraphs, paragraph{
				text:      text,
				startLine: firstLine + start,
				endLine:   firstLine + end - 1,
			})
		}
		buf = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if trimmed == "" && !inFence {
			flush(i)
			start = i + 1
			continue
		}
		if len(buf) == 0 {
			start = i
		}
		buf = append(buf, line)
	}
	flush(len(lines))
	return paragraphs
}

func joinParagraphs(ps []paragraph) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.text
	}
	return strings.Join(parts, "\n\n")
}

// stripFrontmatter removes a leading YAML frontmatter block delimited by ---
// lines so metadata keys do not pollute chunk text.
func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}
	after := rest[end+4:]
	if after != "" && after[0] != '\n' {
		return content
	}
	return strings.TrimPrefix(after, "\n")
}
