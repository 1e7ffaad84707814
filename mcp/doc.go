// Package mcp connects hanabi to Model Context Protocol servers.
//
// Three transports carry JSON-RPC to a server: StdioTransport (child
// process, one message per line), SSETransport (legacy GET stream plus POST
// endpoint) and StreamableHTTPTransport (POST per message, optional GET push
// stream, session header). A Client runs the handshake over any of them and
// exposes the tool catalog.
//
// The Registry is what the rest of the program uses:
//
//	reg := mcp.NewRegistry(cfg.MCPServers)
//	defer reg.CloseAll()
//	stop := reg.CloseOnSignal()
//	defer stop()
//
//	tools, err := reg.GetTools(ctx, []string{"file-system", "github"})
//	if err != nil {
//	    // Some servers failed; tools still holds the rest.
//	    log.Warn().Err(err).Msg("mcp")
//	}
//
// NewServer and ServeStdio go the other way and expose a tool.Set to MCP
// clients.
package mcp
