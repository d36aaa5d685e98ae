package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	kredomcp "github.com/sanonone/kredo/internal/mcp"
	"github.com/sanonone/kredo/internal/server"
	"github.com/sanonone/kredo/pkg/engine"
)

func main() {
	// flag.String returns a pointer populated by flag.Parse below.
	httpAddr := flag.String("http-addr", ":9091", "Address and port for the REST API server (e.g. :9091 or 127.0.0.1:9091)")
	dataDir := flag.String("data-dir", "kredo-data", "Directory holding the command journal and computed artifacts")
	configPath := flag.String("config", "", "Optional YAML file declaring projects to materialize at boot")
	authToken := flag.String("auth-token", "", "Bearer token protecting the API (empty disables auth)")
	mcpMode := flag.Bool("mcp", false, "Serve the MCP tool surface on stdio instead of HTTP")

	flag.Parse()

	eng, err := engine.Open(engine.DefaultOptions(*dataDir))
	if err != nil {
		log.Fatalf("Could not open the engine: %v", err)
	}

	if *mcpMode {
		// Stdout carries the protocol, so logging stays on stderr and the
		// HTTP flags are ignored.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := kredomcp.NewMCPServer(eng)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			log.Printf("MCP server stopped: %v", err)
		}
		if err := eng.Close(); err != nil {
			log.Printf("Engine close error: %v", err)
		}
		return
	}

	srv, err := server.NewServer(eng, *httpAddr, *configPath, *authToken)
	if err != nil {
		log.Fatalf("Could not create the server: %v", err)
	}

	// Channel listening for the interrupt signal (Ctrl+C).
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	// Run the HTTP server in a goroutine so main can wait on the signal.
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Block until shutdown is requested.
	<-shutdownChan

	// Stop the HTTP surface first, then flush and close the engine.
	srv.Shutdown()
	if err := eng.Close(); err != nil {
		log.Printf("Engine close error: %v", err)
	}
}
