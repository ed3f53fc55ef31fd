package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/mcpserver"
	"github.com/starford/docintake/internal/naming"
)

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	caller := auth.Identity{UserID: app.config.Auth.MCP.UserID, Email: app.config.Auth.MCP.Email}
	srv := mcpserver.New(app.service(c), caller)
	c.logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Reindex runs one sync pass over the indexed buckets and prints the stats.
func Reindex(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	x := index.NewIndexer(c.idx, c.store, app.config.Naming, app.config.Storage.Buckets.Indexed(), c.logger, nil)
	stats, err := x.Sync(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	c.logger.Info("reindex done", slog.Int("indexed", stats.Indexed), slog.Int("removed", stats.Removed))
	return writeResult(app, stats)
}

// Seed loads the reference data in path into the configured index.
func Seed(ctx context.Context, path string, opts ...Option) error {
	app := newApplication(opts)
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// setup already applied index.seed_file; path is applied on top.
	return seedFile(ctx, c.idx, path, c.logger)
}

// Decode prints the metadata carried by a storage name. It needs no
// configuration.
func Decode(name string, opts ...Option) error {
	app := newApplication(opts)
	d, err := naming.Decode(name)
	if err != nil {
		return err
	}
	return writeResult(app, d)
}

func writeResult(app *application, v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
