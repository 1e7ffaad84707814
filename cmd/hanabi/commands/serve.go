package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/internal/server"
	"github.com/spetersoncode/hanabi/mcp"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Long: `Serve exposes POST /api/generate and POST /api/chat (AG-UI over SSE).
A hanabi server can itself be listed as a peer agent with the apiUrl
http://host:port/api. The configuration file is reloaded on change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logging.Component("serve")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		registry := mcp.NewRegistry(cfg.MCPServers)
		defer func() {
			if err := registry.CloseAll(); err != nil {
				log.Warn().Err(err).Msg("closing MCP clients")
			}
		}()

		srv := server.New(cfg, registry)
		go func() {
			if err := srv.Watch(ctx, paths); err != nil {
				log.Warn().Err(err).Msg("config watch stopped")
			}
		}()

		port := servePort
		if port == 0 {
			port = cfg.Port()
		}
		addr := fmt.Sprintf("%s:%d", serveHostname, port)
		fmt.Fprintf(cmd.OutOrStdout(), "hanabi %s listening on http://%s\n", Version, addr)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default serve.port or 3041)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on")
}
