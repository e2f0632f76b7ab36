package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sj48695/langchain-example/internal/chromemdb"
	"github.com/sj48695/langchain-example/internal/embedding"
	"github.com/sj48695/langchain-example/internal/helper"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/parser"
	"github.com/sj48695/langchain-example/internal/rag"
)

var (
	userID     string
	topK       int
	split      bool
	selector   string
	recordsID  string
	searchJSON bool
	contextual bool
	seeds      seedFlags
)

// seedFlags name documents to load before a query runs, so the in-process
// backend can be filled and searched in one run.
type seedFlags struct {
	records bool
	csv     string
	file    string
	web     string
}

func (s seedFlags) empty() bool {
	return !s.records && s.csv == "" && s.file == "" && s.web == ""
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load documents into the vector store",
}

var ingestCSVCmd = &cobra.Command{
	Use:   "csv [file]",
	Short: "Ingest a CSV file from the docs directory, one document per row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingest(cmd, func(a *app) ([]models.Document, error) {
			return parser.LoadCSV(&a.cfg.RAG, args[0], userID)
		}, split)
	},
}

var ingestRecordsCmd = &cobra.Command{
	Use:   "records [json-file]",
	Short: "Ingest structured records (the built-in demo set without a file)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingest(cmd, func(a *app) ([]models.Document, error) {
			records := parser.DemoRecords()
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return nil, err
				}
				if err := json.Unmarshal(data, &records); err != nil {
					return nil, fmt.Errorf("failed to decode records: %w", err)
				}
			}
			return parser.FromRecords(records, recordsID)
		}, split)
	},
}

var ingestFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Parse and chunk a pdf, docx, pptx, spreadsheet, markdown or text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := needStore
		if contextual {
			n |= needChat
		}
		return ingestWith(cmd, n, func(a *app) ([]models.Document, error) {
			docs, err := parser.ParseFile(args[0], a.cfg)
			if err != nil || !contextual {
				return docs, err
			}
			return embedding.Contextualize(cmd.Context(), a.llm, docs)
		}, false)
	},
}

var ingestWebCmd = &cobra.Command{
	Use:   "web [url]",
	Short: "Fetch a web page and ingest the text of the selected nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingest(cmd, func(a *app) ([]models.Document, error) {
			return parser.LoadWeb(cmd.Context(), args[0], selector)
		}, true)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Similarity search over the vector store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer a question from the documents stored for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var agentCmd = &cobra.Command{
	Use:   "agent [message...]",
	Short: "Chat with an agent that can search the vector store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAgent,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document in the configured vector store",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the chromem collection to an encrypted file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChromem(cmd.Context(), (*chromemdb.VectorDBManager).Export)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore the chromem collection from its encrypted export",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChromem(cmd.Context(), (*chromemdb.VectorDBManager).Import)
	},
}

func init() {
	ingestCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "userId stored with each document")
	ingestCmd.PersistentFlags().BoolVar(&split, "split", false, "split documents with the configured splitter")
	ingestWebCmd.Flags().StringVar(&selector, "selector", "p", "CSS selector of the nodes to keep")
	ingestFileCmd.Flags().BoolVar(&contextual, "contextualize", false, "prefix each chunk with an LLM summary of its place in the file")
	ingestRecordsCmd.Flags().StringVar(&recordsID, "id-field", "userId", "record field used as userId")
	ingestCmd.AddCommand(ingestCSVCmd, ingestRecordsCmd, ingestFileCmd, ingestWebCmd)

	for _, c := range []*cobra.Command{searchCmd, askCmd} {
		c.Flags().StringVarP(&userID, "user", "u", "", "only use documents of this userId")
	}
	searchCmd.Flags().IntVarP(&topK, "limit", "n", 3, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	for _, c := range []*cobra.Command{searchCmd, askCmd, agentCmd} {
		c.Flags().BoolVar(&seeds.records, "records", false, "load the demo records first")
		c.Flags().StringVar(&seeds.csv, "csv", "", "load a CSV file from the docs directory first")
		c.Flags().StringVar(&seeds.file, "file", "", "parse and load a document file first")
		c.Flags().StringVar(&seeds.web, "web", "", "fetch and load a web page first")
	}

	rootCmd.AddCommand(ingestCmd, searchCmd, askCmd, agentCmd, resetCmd, exportCmd, importCmd)
}

func ingest(cmd *cobra.Command, load func(*app) ([]models.Document, error), splitDocs bool) error {
	return ingestWith(cmd, needStore, load, splitDocs)
}

func ingestWith(cmd *cobra.Command, n need, load func(*app) ([]models.Document, error), splitDocs bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, n)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := load(a)
	if err != nil {
		return err
	}
	if splitDocs {
		splitter, err := parser.NewSplitter(&a.cfg.RAG)
		if err != nil {
			return err
		}
		if docs, err = splitter.SplitDocuments(docs); err != nil {
			return err
		}
	}

	warnInProcessStore(a, "documents are dropped when this command exits; use --records, --csv, --file or --web on search, ask and agent")
	ids, err := addDocuments(ctx, a, docs)
	if err != nil {
		return err
	}
	cmd.Printf("stored %d of %d documents\n", len(ids), len(docs))
	return nil
}

func addDocuments(ctx context.Context, a *app, docs []models.Document) ([]string, error) {
	log.Info().Msgf("Adding %d documents to vector store", len(docs))
	ids, err := a.store.AddDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to store documents: %w", err)
	}
	return ids, nil
}

func warnInProcessStore(a *app, msg string) {
	if b := a.cfg.VectorStore.Backend; b == "" || b == "memory" {
		log.Warn().Str("backend", "memory").Msg("In-process vector store: " + msg)
	}
}

// loadSeeds stores the documents named by the seed flags. CSV rows get the
// --user value as their userId.
func loadSeeds(ctx context.Context, a *app) error {
	if seeds.empty() {
		warnInProcessStore(a, "it starts empty in every run; load documents with --records, --csv, --file or --web")
		return nil
	}

	var docs []models.Document
	if seeds.records {
		records, err := parser.FromRecords(parser.DemoRecords(), recordsID)
		if err != nil {
			return err
		}
		docs = append(docs, records...)
	}
	if seeds.csv != "" {
		rows, err := parser.LoadCSV(&a.cfg.RAG, seeds.csv, userID)
		if err != nil {
			return err
		}
		docs = append(docs, rows...)
	}
	if seeds.file != "" {
		chunks, err := parser.ParseFile(seeds.file, a.cfg)
		if err != nil {
			return err
		}
		docs = append(docs, chunks...)
	}
	if seeds.web != "" {
		page, err := parser.LoadWeb(ctx, seeds.web, "p")
		if err != nil {
			return err
		}
		splitter, err := parser.NewSplitter(&a.cfg.RAG)
		if err != nil {
			return err
		}
		if page, err = splitter.SplitDocuments(page); err != nil {
			return err
		}
		docs = append(docs, page...)
	}
	_, err := addDocuments(ctx, a, docs)
	return err
}

func userFilter() *models.Filter {
	if userID == "" {
		return nil
	}
	return models.NewFilter(models.Eq("userId", userID))
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needStore)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := loadSeeds(ctx, a); err != nil {
		return err
	}

	results, err := a.store.SimilaritySearch(ctx, args[0], topK, userFilter())
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		helper.FprettyPrint(cmd.OutOrStdout(), results)
		return nil
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("[%d] %.4f %s\n", i+1, r.Score, r.PageContent)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needChat|needStore)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := loadSeeds(ctx, a); err != nil {
		return err
	}

	response, err := rag.NewRAG(a.store, a.llm, a.cfg).Query(ctx, userID, args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	cmd.Printf("%s\n\n", response.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	cmd.Printf("%s\n\n", response.Source)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	cmd.Printf("%s\n\n", response.Content)
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needChat|needStore|needSaver)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := loadSeeds(ctx, a); err != nil {
		return err
	}

	agent := rag.NewAgent(a.llm, a.store, a.saver)
	thread := currentThread(cmd)
	for _, input := range args {
		out, err := agent.Run(ctx, thread, models.UserMessage(input))
		if err != nil {
			return fmt.Errorf("agent failed: %w", err)
		}
		for _, m := range out {
			cmd.Println(rag.Pretty(m))
			cmd.Println("-----")
			cmd.Println()
		}
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needStore)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	cmd.Printf("dropped %s (%s)\n", a.cfg.VectorStore.Collection, a.cfg.VectorStore.Backend)
	return nil
}

func withChromem(ctx context.Context, op func(*chromemdb.VectorDBManager, context.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	vs := cfg.VectorStore
	if vs.Backend != "chromem" {
		return fmt.Errorf("export and import need the chromem backend, got %q", vs.Backend)
	}
	m, err := chromemdb.NewVectorDBManager(vs.Collection, chromemdb.Options{
		DBPath:        vs.Chromem.Path,
		Compress:      vs.Chromem.Compress,
		EncryptionKey: cfg.RAG.EncryptionKey,
	})
	if err != nil {
		return err
	}
	defer m.Close()
	return op(m, ctx)
}
