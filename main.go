// Command go-rag-pipeline ingests documents into a vector index and answers
// questions about them, from the command line or over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-rag-pipeline/config"
	"go-rag-pipeline/logging"
)

// globals filled in by the persistent flags
type globals struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "go-rag-pipeline",
		Short: "Retrieval-augmented generation over your documents",
		Long: `Ingest PDF, HTML, Markdown and text files into a vector index, search
it, and answer questions grounded in the retrieved chunks.

Runs fully offline by default with the hash embedder and the in-memory
index. Configure OpenAI, an OpenAI-compatible local server, pgvector or a
Redis embedding cache in the config file or the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath, g.envFile)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "rag.yaml", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "Path to a .env file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(g),
		newQueryCmd(g),
		newAskCmd(g),
		newServeCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
