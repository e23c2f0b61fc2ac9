package history

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// searchDocument is what gets indexed for each record — the bits an operator
// would actually search for: function names and the recurrence model/shape.
type searchDocument struct {
	Language  string `json:"language"`
	Functions string `json:"functions"` // space-joined function names
	Models    string `json:"models"`    // space-joined recurrence models (divide/decrease)
}

func buildIndexMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	doc.AddFieldMappingsAt("functions", textField)
	doc.AddFieldMappingsAt("models", textField)
	doc.AddFieldMappingsAt("language", textField)

	m.AddDocumentMapping("record", doc)
	m.DefaultMapping = doc
	return m
}

// mappingHash computes a deterministic SHA-256 hex digest of a Bleve index
// mapping, used to detect when the mapping has changed and force a rebuild.
func mappingHash(m mapping.IndexMapping) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

type searchIndex struct {
	index bleve.Index
}

func openSearchIndex(dir string) (*searchIndex, error) {
	path := filepath.Join(dir, "history.bleve")
	hashPath := filepath.Join(dir, "history.bleve.mapping")

	m := buildIndexMapping()
	wantHash := mappingHash(m)

	if existing, err := os.ReadFile(hashPath); err == nil && string(existing) != wantHash {
		historyLog.Printf("search index mapping changed, rebuilding %s", path)
		_ = os.RemoveAll(path)
	}

	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, m)
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, err
	}

	_ = os.WriteFile(hashPath, []byte(wantHash), 0o644)

	return &searchIndex{index: idx}, nil
}

func (si *searchIndex) Close() error {
	return si.index.Close()
}

func (si *searchIndex) index(rec Record) error {
	names := make([]string, 0, len(rec.Result.Summary.Functions))
	models := make([]string, 0, len(rec.Result.Summary.Functions))
	for _, fn := range rec.Result.Summary.Functions {
		names = append(names, fn.Name)
		if fn.Recurrence != nil && fn.Recurrence.Model != "" {
			models = append(models, fn.Recurrence.Model)
		}
	}

	doc := searchDocument{
		Language:  rec.Language,
		Functions: strings.Join(names, " "),
		Models:    strings.Join(models, " "),
	}

	return si.index.Index(rec.ID, doc)
}

func (si *searchIndex) search(query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	nameQuery := bleve.NewMatchQuery(query)
	nameQuery.SetField("functions")
	modelQuery := bleve.NewMatchQuery(query)
	modelQuery.SetField("models")
	langQuery := bleve.NewMatchQuery(query)
	langQuery.SetField("language")

	disjunction := bleve.NewDisjunctionQuery(nameQuery, modelQuery, langQuery)
	req := bleve.NewSearchRequest(disjunction)
	req.Size = limit

	result, err := si.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
