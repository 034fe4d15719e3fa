package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

// Names registered with the bleve component registry.
const (
	codeTokenizerName = "agentbrain_code_tokenizer"
	codeStopName      = "agentbrain_code_stop"
	codeAnalyzerName  = "agentbrain_code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, newBleveCodeTokenizer)
	_ = registry.RegisterTokenFilter(codeStopName, newBleveStopFilter)
}

// keywordIndex wraps a bleve index for BM25 keyword search over chunk text.
// An empty path builds an in-memory index.
type keywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type keywordDocument struct {
	Content string `json:"content"`
}

// keywordHit is a raw (un-normalized) BM25 hit.
type keywordHit struct {
	ID    string
	Score float64
}

func newKeywordIndex(path string) (*keywordIndex, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index dir: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &keywordIndex{index: idx, path: path}, nil
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("register code analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName
	return indexMapping, nil
}

// Index upserts documents in one batch.
func (k *keywordIndex) Index(ids []string, texts []string) error {
	if len(ids) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, keywordDocument{Content: texts[i]}); err != nil {
			return fmt.Errorf("index document %s: %w", id, err)
		}
	}
	return k.index.Batch(batch)
}

// Search returns raw BM25 hits for a query. Empty queries yield no hits.
func (k *keywordIndex) Search(ctx context.Context, query string, limit int) ([]keywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]keywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, keywordHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes documents in one batch. Unknown IDs are ignored.
func (k *keywordIndex) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

func (k *keywordIndex) Count() (int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	n, err := k.index.DocCount()
	return int(n), err
}

func (k *keywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

// bleveCodeTokenizer feeds the code-aware tokenizer into bleve.
type bleveCodeTokenizer struct{}

func newBleveCodeTokenizer(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenizeIdentifiers(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// bleveStopFilter drops code stop words.
type bleveStopFilter struct{}

func newBleveStopFilter(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{}, nil
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := codeStopWords[strings.ToLower(string(token.Term))]; !stop {
			out = append(out, token)
		}
	}
	return out
}
