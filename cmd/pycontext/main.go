package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/pycontext-mcp/internal/app"
	"github.com/dshills/pycontext-mcp/internal/config"
	"github.com/dshills/pycontext-mcp/internal/mcp"
	"github.com/dshills/pycontext-mcp/internal/searcher"
	"github.com/dshills/pycontext-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// Execute runs the CLI with args, writing command output to stdout
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	rootCmd := &cobra.Command{
		Use:           "pycontext",
		Short:         "Summarize and retrieve Python code for LLM assistants",
		Long:          "pycontext indexes a Python project into file, class and function summaries and retrieves them for natural language questions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(versionText())
	rootCmd.SetOut(stdout)
	rootCmd.SetArgs(args)
	config.RegisterFlags(rootCmd.PersistentFlags())

	var reindex bool
	indexCmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index a Python project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(ctx, cmd.Flags(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Index(ctx, args[0], reindex)
				if stats != nil {
					if werr := writeJSON(cmd.OutOrStdout(), stats); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}
	indexCmd.Flags().BoolVar(&reindex, "reindex", false, "empty every partition before indexing")

	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve files, classes and functions for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(ctx, cmd.Flags(), func(ctx context.Context, a *app.App) error {
				result, err := a.Search(ctx, strings.Join(args, " "), 0)
				if err != nil && !errors.Is(err, searcher.ErrIncompleteResults) {
					return err
				}
				if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
					return werr
				}
				return err
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show partition sizes and configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cmd.Flags(), func(ctx context.Context, a *app.App) error {
				status, err := a.Status(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), status)
			})
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cmd.Flags(), func(ctx context.Context, a *app.App) error {
				logger := zerolog.Ctx(ctx)
				logger.Info().
					Str("version", version).
					Str("build_mode", storage.BuildMode).
					Str("driver", storage.DriverName).
					Bool("vector_extension", storage.VectorExtensionAvailable).
					Msg("MCP server ready, listening on stdio")

				err := mcp.NewServer(a, version).Serve(ctx)
				logger.Info().Msg("server stopped")
				return err
			})
		},
	}

	rootCmd.AddCommand(indexCmd, queryCmd, statusCmd, serveCmd)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

// withApp loads configuration, builds the app and runs fn with a context
// carrying the configured logger
func withApp(ctx context.Context, flags *pflag.FlagSet, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(cfg.Log)
	ctx = logger.WithContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("close failed")
		}
	}()

	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionText() string {
	return fmt.Sprintf(`pycontext MCP Server
Version: %s
Build Time: %s
Build Mode: %s
SQLite Driver: %s
Vector Extension: %v
`, version, buildTime, storage.BuildMode, storage.DriverName, storage.VectorExtensionAvailable)
}
