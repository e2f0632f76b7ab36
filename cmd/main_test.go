package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sj48695/langchain-example/internal/llmtest"
	"github.com/sj48695/langchain-example/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// resetFlags restores defaults; flag variables outlive a single Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	threadID = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"chat"}, {"buffer-chat"}, {"threads", "show"}, {"threads", "delete"},
		{"ingest", "csv"}, {"ingest", "records"}, {"ingest", "file"}, {"ingest", "web"},
		{"search"}, {"ask"}, {"agent"}, {"reset"}, {"export"}, {"import"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
	assert.NotNil(t, agentCmd.Flags().Lookup("thread"))
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = configFilePath

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configPath = configFilePath })
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestIngestThenSearchChromem(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`embed_llm:
  provider: hash
  dimensions: 64
vector_store:
  backend: chromem
  collection: people
  chromem:
    path: %s
`, filepath.Join(dir, "db")))

	out, err := execute(t, "--config", path, "ingest", "records")
	require.NoError(t, err)
	assert.Contains(t, out, "stored 3 of 3 documents")

	out, err = execute(t, "--config", path, "search", "짱구", "--user", "짱구", "--limit", "3", "--json")
	require.NoError(t, err)

	var results []models.ScoredDocument
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "짱구", results[0].Metadata["userId"])
}

func TestMemoryBackendSearchLoadsInSameRun(t *testing.T) {
	path := writeConfig(t, "embed_llm:\n  provider: hash\n  dimensions: 64\nvector_store:\n  backend: memory\n")

	out, err := execute(t, "--config", path, "search", "짱구", "--user", "짱구")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	out, err = execute(t, "--config", path, "search", "짱구", "--records", "--user", "짱구", "--json")
	require.NoError(t, err)
	var results []models.ScoredDocument
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "짱구", results[0].Metadata["userId"])
}

func TestAskWithRecords(t *testing.T) {
	srv := llmtest.NewServer(t)
	path := writeConfig(t, fmt.Sprintf(`llm:
  provider: openai
  base_url: %s
  key: test-key
embed_llm:
  provider: hash
  dimensions: 64
`, srv.URL))

	out, err := execute(t, "--config", path, "ask", "몇 살이야?", "--records", "--user", "흰둥이")
	require.NoError(t, err)
	assert.Contains(t, out, "echo: 몇 살이야?")
	assert.Contains(t, out, "흰둥이")
	assert.NotContains(t, out, "짱아")
}

func TestResetChromem(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(`embed_llm:
  provider: hash
  dimensions: 64
vector_store:
  backend: chromem
  chromem:
    path: %s
`, filepath.Join(t.TempDir(), "db")))

	_, err := execute(t, "--config", path, "ingest", "records")
	require.NoError(t, err)

	out, err := execute(t, "--config", path, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped documents (chromem)")

	out, err = execute(t, "--config", path, "search", "짱구")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestThreadsShowJSON(t *testing.T) {
	path := writeConfig(t, "memory:\n  backend: memory\n")
	out, err := execute(t, "--config", path, "threads", "show", "abc", "--json")
	require.NoError(t, err)

	var thread models.Thread
	require.NoError(t, json.Unmarshal([]byte(out), &thread))
	assert.Equal(t, "abc", thread.ID)
	assert.Empty(t, thread.Messages)
}

func TestExportNeedsChromem(t *testing.T) {
	path := writeConfig(t, "vector_store:\n  backend: memory\n")
	_, err := execute(t, "--config", path, "export")
	assert.ErrorContains(t, err, "chromem backend")
}
