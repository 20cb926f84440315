// Command ingestctl runs ingestion jobs and inspects documents without the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/kbingest/internal/app"
	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Operate the knowledge-base ingestion pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		level := cfg.SlogLevel()
		if !verbose {
			level = slog.LevelWarn
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		return app.NewApp(cmd.Context(), cfg, logger)
	}

	root.AddCommand(
		newProcessCmd(open),
		newScrapeCmd(open),
		newResetCmd(open),
		newStatusCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*app.App, error)

func newProcessCmd(open opener) *cobra.Command {
	var kb string
	cmd := &cobra.Command{
		Use:   "process-document <document-id>",
		Short: "Extract, chunk and embed an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ingestor.ProcessDocument(cmd.Context(), ingestion_engine.ProcessRequest{
				DocumentID:      args[0],
				KnowledgeBaseID: kb,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&kb, "kb", "", "expected knowledge base id")
	return cmd
}

func newScrapeCmd(open opener) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "scrape <url-id>",
		Short: "Fetch and embed a registered web source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ingestor.ScrapeURL(cmd.Context(), ingestion_engine.ScrapeRequest{
				DocumentID:     args[0],
				ForcePrerender: force,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s (%d words)", res.Error, res.WordCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force-prerender", false, "always use the prerender proxy")
	return cmd
}

func newResetCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <document-id>",
		Short: "Move a finished document back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Documents.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset to pending\n", args[0])
			return nil
		},
	}
}

func newStatusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show a document's processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Documents.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
