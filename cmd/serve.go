// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/internal/observability"
	"github.com/xkilldash9x/focusgroup/internal/server"
)

// newServeCmd creates the `serve` command, which accepts focus groups over
// HTTP and reports their progress until interrupted.
func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the focus group API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := root.cfg
			if cmd.Flags().Changed("addr") {
				cfg.ServerCfg.Addr = addr
			}

			components, err := root.factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			srv, err := server.New(cfg.Server(), components.Orchestrator, components.Tracker, logger)
			if err != nil {
				return err
			}
			err = srv.Start(ctx)
			if err != nil {
				logger.Error("Focus group API failed.", zap.Error(err))
			}
			return err
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return serveCmd
}
