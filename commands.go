package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-rag-pipeline/rag"
)

func newIngestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Load, chunk, embed and index documents",
		Long: `Load every supported file under the given paths (directories are walked
recursively), split them into chunks, embed the chunks and add them to the
index. The in-memory index is saved to the data directory afterwards.

Examples:
  go-rag-pipeline ingest ./docs
  go-rag-pipeline ingest handbook.pdf notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			var docs []rag.Document
			for _, path := range args {
				loaded, err := loadPath(ctx, app, path)
				if err != nil {
					return err
				}
				docs = append(docs, loaded...)
			}

			stats, err := app.pipeline.Ingest(ctx, docs)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			if err := app.persist(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents into %d chunks", stats.Documents, stats.Chunks)
			if stats.Empty > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d without text)", stats.Empty)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func loadPath(ctx context.Context, app *App, path string) ([]rag.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot ingest %s: %w", path, err)
	}
	if info.IsDir() {
		return app.loader.LoadDir(ctx, path)
	}
	doc, err := app.loader.LoadFile(ctx, path, info.Name())
	if err != nil {
		return nil, err
	}
	return []rag.Document{doc}, nil
}

func newQueryCmd(g *globals) *cobra.Command {
	var (
		k      int
		format string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Show the chunks nearest to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k == 0 {
				k = g.cfg.Retrieval.TopK
			}
			app, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.pipeline.Search(cmd.Context(), args[0], k)
			if err != nil {
				if errors.Is(err, rag.ErrEmptyIndex) {
					return fmt.Errorf("%w: run 'ingest' first", err)
				}
				return err
			}
			return printResults(cmd.OutOrStdout(), results, format)
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks to return (default from config)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func printResults(w io.Writer, results []rag.SearchResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tDISTANCE\tSOURCE\tTEXT")
	for i, r := range results {
		src := r.Chunk.Source
		if r.Chunk.Page > 0 {
			src = fmt.Sprintf("%s p.%d", src, r.Chunk.Page)
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, r.Distance, src, truncate(r.Chunk.Content, 70))
	}
	return tw.Flush()
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func newAskCmd(g *globals) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k == 0 {
				k = g.cfg.Retrieval.TopK
			}
			app, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			answer, err := app.pipeline.Ask(cmd.Context(), args[0], k)
			if errors.Is(err, rag.ErrNoGenerator) {
				return fmt.Errorf("%w: set generator.provider to openai or compat", err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Text)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Sources:")
			for i, src := range answer.Sources {
				fmt.Fprintf(out, "  [%d] %s (distance %.4f)\n", i+1, src.Chunk.Source, src.Distance)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks to retrieve (default from config)")
	return cmd
}

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				g.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:         g.cfg.Server.Addr,
				Handler:      newServer(app).routes(),
				ReadTimeout:  g.cfg.Server.ReadTimeout,
				WriteTimeout: g.cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				g.logger.Info("server listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			g.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
