// Package keyword implements the BM25 side of hybrid search on Bleve.
//
// Documents are indexed whole with a code-aware analyzer so queries
// match identifier parts ("parse header" finds parseHTTPHeader).
// Structured fields carry the source and content-type filters.
package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index"
)

const (
	codeTokenizerName  = "code_tokenizer"
	codeStopFilterName = "code_stop"
	codeAnalyzerName   = "code_analyzer"

	// maxContentChars truncates oversized documents before indexing.
	maxContentChars = 100_000

	// SnippetMaxChars caps the snippet length in search results.
	SnippetMaxChars = 600
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// Index is the Bleve-backed keyword index.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Result is one keyword search hit.
type Result struct {
	DocID        string
	SourceID     string
	Repository   string
	Score        float64
	Path         string
	AbsPath      string
	FileName     string
	FolderName   string
	Extension    string
	Language     string
	ContentType  string
	Snippet      string
	MatchedTerms []string
}

// Filters narrows a search. Empty slices match everything. Extension
// values are matched without a leading dot.
type Filters struct {
	SourceIDs    []string
	Repositories []string
	FolderNames  []string
	Extensions   []string
	Languages    []string
	ContentTypes []string
}

// Open opens or creates the keyword index at path. An empty path
// builds an in-memory index for tests. A corrupted on-disk index is
// cleared and recreated; callers must reindex afterwards.
func Open(path string) (*Index, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
					fmt.Sprintf("keyword index corrupted at %s and cannot be cleared", path), removeErr)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
					fmt.Sprintf("keyword index corrupted at %s and cannot be cleared", path), removeErr)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &Index{index: idx, path: path}, nil
}

// buildIndexMapping wires the code analyzer and the filterable fields.
func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName

	analyzed := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = codeAnalyzerName
		fm.Store = true
		return fm
	}

	exact := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keywordanalyzer.Name
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}

	numeric := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}

	doc := bleve.NewDocumentMapping()
	// Searchable fields, code-analyzed: the file name and relative
	// path carry folder and directory tokens into the match.
	doc.AddFieldMappingsAt("content", analyzed())
	doc.AddFieldMappingsAt("path", analyzed())
	doc.AddFieldMappingsAt("file_name", analyzed())
	// Filterable fields, matched exactly.
	doc.AddFieldMappingsAt("source_id", exact())
	doc.AddFieldMappingsAt("source_type", exact())
	doc.AddFieldMappingsAt("repository", exact())
	doc.AddFieldMappingsAt("abs_path", exact())
	doc.AddFieldMappingsAt("directory_path", exact())
	doc.AddFieldMappingsAt("folder_name", exact())
	doc.AddFieldMappingsAt("extension", exact())
	doc.AddFieldMappingsAt("language", exact())
	doc.AddFieldMappingsAt("content_type", exact())
	doc.AddFieldMappingsAt("last_modified", numeric())
	doc.AddFieldMappingsAt("size", numeric())
	indexMapping.DefaultMapping = doc

	return indexMapping, nil
}

// Index adds or replaces documents. Content beyond maxContentChars is
// truncated; the vector side still sees the full text.
func (k *Index) Index(ctx context.Context, docs []*index.Document) error {
	if len(docs) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		content := doc.Content
		if len(content) > maxContentChars {
			content = truncateUTF8(content, maxContentChars)
		}

		fields := map[string]interface{}{
			"content":        content,
			"path":           doc.Path,
			"abs_path":       doc.AbsPath,
			"file_name":      doc.FileName,
			"directory_path": doc.DirectoryPath,
			"folder_name":    doc.FolderName,
			"extension":      doc.Extension,
			"source_id":      doc.SourceID,
			"source_type":    doc.SourceType,
			"repository":     doc.Repository,
			"language":       doc.Language,
			"content_type":   doc.ContentType,
			"last_modified":  doc.LastModified.Unix(),
			"size":           doc.Size,
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}

	if err := k.index.Batch(batch); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeIndexFailed, err)
	}
	return nil
}

// Search runs a BM25 match query with optional filters.
func (k *Index) Search(ctx context.Context, queryStr string, filters Filters, limit int) ([]*Result, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*Result{}, nil
	}

	// File names outrank path segments, which outrank body matches.
	nameQuery := bleve.NewMatchQuery(queryStr)
	nameQuery.SetField("file_name")
	nameQuery.SetBoost(3)
	pathQuery := bleve.NewMatchQuery(queryStr)
	pathQuery.SetField("path")
	pathQuery.SetBoost(2)
	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")
	base := bleve.NewDisjunctionQuery(nameQuery, pathQuery, contentQuery)

	full := applyFilters(base, filters)

	req := bleve.NewSearchRequest(full)
	req.Size = limit
	req.IncludeLocations = true
	req.Fields = storedFields

	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeSearchFailed, err)
	}

	results := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, nil
}

// storedFields is every field fetched back for hydration.
var storedFields = []string{
	"content", "path", "abs_path", "file_name", "folder_name",
	"extension", "source_id", "repository", "language", "content_type",
}

// applyFilters wraps base in a conjunction with term filters.
func applyFilters(base query.Query, filters Filters) query.Query {
	conjuncts := []query.Query{base}

	addTerms := func(field string, values []string) {
		if len(values) == 0 {
			return
		}
		terms := make([]query.Query, len(values))
		for i, v := range values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			terms[i] = tq
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(terms...))
	}

	addTerms("source_id", filters.SourceIDs)
	addTerms("repository", filters.Repositories)
	addTerms("folder_name", filters.FolderNames)
	addTerms("extension", normalizeExtensions(filters.Extensions))
	addTerms("language", filters.Languages)
	addTerms("content_type", filters.ContentTypes)

	if len(conjuncts) == 1 {
		return base
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// normalizeExtensions matches how extensions are indexed: lowercase,
// no leading dot.
func normalizeExtensions(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = index.NormalizeExtension(v)
	}
	return out
}

func hitToResult(hit *search.DocumentMatch) *Result {
	r := &Result{
		DocID:        hit.ID,
		SourceID:     stringField(hit, "source_id"),
		Repository:   stringField(hit, "repository"),
		Score:        hit.Score,
		Path:         stringField(hit, "path"),
		AbsPath:      stringField(hit, "abs_path"),
		FileName:     stringField(hit, "file_name"),
		FolderName:   stringField(hit, "folder_name"),
		Extension:    stringField(hit, "extension"),
		Language:     stringField(hit, "language"),
		ContentType:  stringField(hit, "content_type"),
		MatchedTerms: matchedTerms(hit),
	}
	r.Snippet = buildSnippet(stringField(hit, "content"), hit)
	return r
}

func stringField(hit *search.DocumentMatch, name string) string {
	if v, ok := hit.Fields[name].(string); ok {
		return v
	}
	return ""
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" && field != "path" && field != "file_name" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

// buildSnippet extracts a window around the first content match.
// Falls back to the document head when locations are missing.
func buildSnippet(content string, hit *search.DocumentMatch) string {
	if content == "" {
		return ""
	}

	start := 0
	if locations, ok := hit.Locations["content"]; ok {
		first := -1
		for _, locs := range locations {
			for _, loc := range locs {
				if first < 0 || int(loc.Start) < first {
					first = int(loc.Start)
				}
			}
		}
		if first > 0 {
			// Center the window on the match.
			start = first - SnippetMaxChars/2
			if start < 0 {
				start = 0
			}
		}
	}

	end := start + SnippetMaxChars
	if end > len(content) {
		end = len(content)
		start = end - SnippetMaxChars
		if start < 0 {
			start = 0
		}
	}

	start = alignRuneStart(content, start)
	end = alignRuneStart(content, end)
	return strings.TrimSpace(content[start:end])
}

// alignRuneStart moves a byte offset back to the nearest rune start.
func alignRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// truncateUTF8 cuts s to at most n bytes on a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:alignRuneStart(s, n)]
}

// FetchDocs returns stored fields for the given document IDs, keyed by
// ID. Missing documents are absent from the map. Used to hydrate
// vector-only hits.
func (k *Index) FetchDocs(ctx context.Context, docIDs []string) (map[string]*Result, error) {
	if len(docIDs) == 0 {
		return map[string]*Result{}, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	idQuery := query.NewDocIDQuery(docIDs)
	req := bleve.NewSearchRequest(idQuery)
	req.Size = len(docIDs)
	req.Fields = storedFields

	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeSearchFailed, err)
	}

	out := make(map[string]*Result, len(res.Hits))
	for _, hit := range res.Hits {
		content := stringField(hit, "content")
		snippet := content
		if len(snippet) > SnippetMaxChars {
			snippet = strings.TrimSpace(truncateUTF8(snippet, SnippetMaxChars))
		}
		out[hit.ID] = &Result{
			DocID:       hit.ID,
			SourceID:    stringField(hit, "source_id"),
			Repository:  stringField(hit, "repository"),
			Path:        stringField(hit, "path"),
			AbsPath:     stringField(hit, "abs_path"),
			FileName:    stringField(hit, "file_name"),
			FolderName:  stringField(hit, "folder_name"),
			Extension:   stringField(hit, "extension"),
			Language:    stringField(hit, "language"),
			ContentType: stringField(hit, "content_type"),
			Snippet:     snippet,
		}
	}
	return out, nil
}

// DeleteDocs removes documents by ID.
func (k *Index) DeleteDocs(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeIndexFailed, err)
	}
	return nil
}

// DeleteBySource removes every document belonging to a source.
func (k *Index) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	ids, err := k.docIDsBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if err := k.DeleteDocs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// docIDsBySource collects all document IDs with the given source_id.
func (k *Index) docIDsBySource(ctx context.Context, sourceID string) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	count, err := k.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	tq := bleve.NewTermQuery(sourceID)
	tq.SetField("source_id")
	req := bleve.NewSearchRequest(tq)
	req.Size = int(count)

	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeSearchFailed, err)
	}

	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// DocCount returns the number of indexed documents.
func (k *Index) DocCount() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	return k.index.DocCount()
}

// Close closes the underlying Bleve index.
func (k *Index) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

// validateIntegrity checks the on-disk index before opening it.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// codeTokenizerConstructor builds the Bleve tokenizer wrapper.
func codeTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
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

		result = append(result, &analysis.Token{
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

	return result
}

func codeStopFilterConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: buildStopWordMap(defaultStopWords)}, nil
}

type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := f.stopWords[strings.ToLower(string(token.Term))]; !stop {
			result = append(result, token)
		}
	}
	return result
}
