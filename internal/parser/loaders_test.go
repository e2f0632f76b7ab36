package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sj48695/langchain-example/internal/config"
)

func TestReadCSV(t *testing.T) {
	path := writeFile(t, "user.csv", "timestamp,text\n2024-01-01,I like cats\n2024-01-02,  \n2024-01-03,\"I live in Seoul, Korea\"\n")

	docs, err := ReadCSV(path, "user1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "I like cats", docs[0].PageContent)
	assert.Equal(t, map[string]any{"userId": "user1", "timestamp": "2024-01-01"}, docs[0].Metadata)
	assert.Equal(t, "I live in Seoul, Korea", docs[1].PageContent)
	assert.Equal(t, "2024-01-03", docs[1].Metadata["timestamp"])
}

func TestReadCSVWithoutTimestamp(t *testing.T) {
	docs, err := ReadCSV(writeFile(t, "a.csv", "Text\nhello\n"), "u")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "", docs[0].Metadata["timestamp"])
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(writeFile(t, "empty.csv", ""), "u")
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadCSV(writeFile(t, "nocol.csv", "body\nhello\n"), "u")
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadCSV(filepath.Join(t.TempDir(), "missing.csv"), "u")
	assert.Error(t, err)
}

func TestLoadCSVResolvesUnderDocsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.csv"), []byte("text\nhi\n"), 0o644))
	cfg := &config.RAGConfig{DocsDir: dir}

	docs, err := LoadCSV(cfg, "user.csv", "u")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = LoadCSV(cfg, "../user.csv", "u")
	assert.Error(t, err)
}

func TestFromRecords(t *testing.T) {
	docs, err := FromRecords(DemoRecords(), "userId")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "짱구", docs[0].Metadata["userId"])
	assert.Equal(t, 7, docs[0].Metadata["age"])
	assert.Equal(t, 5, docs[1].Metadata["age"])
	assert.Equal(t, 3, docs[2].Metadata["age"])
	assert.Equal(t, "timestamp", docs[0].Metadata["timestamp"])

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(docs[1].PageContent), &rec))
	assert.Equal(t, "흰둥이", rec["name"])

	docs, err = FromRecords([]Record{{"id": 7, "tags": []string{"a"}}}, "id")
	require.NoError(t, err)
	assert.Equal(t, "7", docs[0].Metadata["userId"])
	assert.NotContains(t, docs[0].Metadata, "tags")

	_, err = FromRecords([]Record{{"name": "x"}}, "userId")
	assert.Error(t, err)
}

func TestLoadWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><h1>Title</h1><p> First paragraph. </p><div class="post"><p>Second</p></div><p></p></body></html>`)
	}))
	defer srv.Close()

	ctx := context.Background()
	docs, err := LoadWeb(ctx, srv.URL+"/post", "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "First paragraph.\nSecond", docs[0].PageContent)
	assert.Equal(t, srv.URL+"/post", docs[0].Metadata["source"])

	docs, err = LoadWeb(ctx, srv.URL, ".post, h1")
	require.NoError(t, err)
	assert.True(t, strings.Contains(docs[0].PageContent, "Title"))
	assert.True(t, strings.Contains(docs[0].PageContent, "Second"))

	_, err = LoadWeb(ctx, srv.URL+"/missing", "")
	assert.Error(t, err)
}
