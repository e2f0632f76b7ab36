package parser

import (
	"encoding/json"
	"fmt"

	"github.com/sj48695/langchain-example/internal/models"
)

// Record is one structured row, e.g. a profile fact about a user.
type Record map[string]any

// FromRecords wraps each record as a Document whose content is the
// record's JSON. Scalar fields are copied to metadata and idField
// becomes the userId.
func FromRecords(records []Record, idField string) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(records))
	for i, rec := range records {
		id, ok := rec[idField]
		if !ok {
			return nil, fmt.Errorf("record %d has no %q field", i, idField)
		}
		content, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}

		meta := map[string]any{}
		for k, v := range rec {
			switch v.(type) {
			case string, bool, int, int32, int64, float32, float64, json.Number:
				meta[k] = v
			}
		}
		meta["userId"] = models.MetadataString(id)
		meta["timestamp"] = "timestamp"

		docs = append(docs, models.Document{
			PageContent: string(content),
			Metadata:    meta,
		})
	}
	return docs, nil
}

// DemoRecords is a small fixed data set for trying filtered retrieval.
func DemoRecords() []Record {
	return []Record{
		{"userId": "짱구", "name": "짱구", "age": 7},
		{"userId": "흰둥이", "name": "흰둥이", "age": 5},
		{"userId": "짱아", "name": "짱아", "age": 3},
	}
}
