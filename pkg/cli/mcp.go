package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/castmate/pkg/service/mcp"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Serve streamable HTTP on this address instead of stdio",
			Sources:     cli.EnvVars("CASTMATE_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Run as an MCP server exposing chat, generate_ideas, create_script and recall tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// stdout carries the protocol, so logs always go to stderr
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(mcp.Config{
				Owner:     a.owner,
				Chat:      a.router,
				Writer:    a.podcast,
				Recaller:  a.memory,
				Threshold: cfg.memoryThreshold,
				Version:   c.Root().Version,
			})
			if err != nil {
				return err
			}

			if addr == "" {
				return srv.Run(ctx)
			}

			logging.From(ctx).Info("starting MCP HTTP server", "addr", addr)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return goerr.Wrap(err, "MCP HTTP server failed", goerr.V("addr", addr))
			}
			return nil
		},
	}
}
