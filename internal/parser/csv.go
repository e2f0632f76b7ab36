package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/helper"
	"github.com/sj48695/langchain-example/internal/models"
)

const (
	textColumn      = "text"
	timestampColumn = "timestamp"
)

var ErrMissingColumn = errors.New("csv is missing the text column")

// LoadCSV reads name from the configured docs directory.
func LoadCSV(cfg *config.RAGConfig, name, userID string) ([]models.Document, error) {
	path, err := helper.ResolvePath(cfg.DocsDir, name)
	if err != nil {
		return nil, err
	}
	return ReadCSV(path, userID)
}

// ReadCSV turns each row of a CSV file with a header into one Document.
// The text column is the page content; rows without text are skipped.
func ReadCSV(path, userID string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv %s: %w", path, err)
	}
	defer f.Close()

	docs, err := readCSV(f, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv %s: %w", path, err)
	}
	log.Debug().Str("file", path).Int("rows", len(docs)).Msg("Loaded csv")
	return docs, nil
}

func readCSV(r io.Reader, userID string) ([]models.Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingColumn
		}
		return nil, err
	}
	textIdx, tsIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case textColumn:
			textIdx = i
		case timestampColumn:
			tsIdx = i
		}
	}
	if textIdx < 0 {
		return nil, ErrMissingColumn
	}

	var docs []models.Document
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		text := ""
		if textIdx < len(row) {
			text = strings.TrimSpace(row[textIdx])
		}
		if text == "" {
			log.Warn().Int("line", line).Msg("Skipping csv row without text")
			continue
		}
		timestamp := ""
		if tsIdx >= 0 && tsIdx < len(row) {
			timestamp = strings.TrimSpace(row[tsIdx])
		}
		docs = append(docs, models.Document{
			PageContent: text,
			Metadata: map[string]any{
				"userId":    userID,
				"timestamp": timestamp,
			},
		})
	}
	return docs, nil
}
