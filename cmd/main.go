package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sj48695/langchain-example/internal/config"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "langchain-example",
	Short: "Chat memory, RAG and vector store demos",
	Long: `Runs chat conversations with per-thread memory, ingests documents into a
vector store (in-process, chromem on disk, Postgres pgvector or Redis) and
answers questions from them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(verbose)
		if err := godotenv.Load(); err != nil {
			log.Debug().Err(err).Msg("No .env file loaded")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogger(verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// loadConfig reads configPath. A missing default file falls back to
// built-in defaults plus the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) && configPath == configFilePath {
		log.Debug().Str("path", configPath).Msg("Config file not found, using defaults")
		cfg = config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", configPath).Str("vector_store", cfg.VectorStore.Backend).Msg("Loaded config")
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
