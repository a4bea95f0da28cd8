// Command interview-mcp serves the local transcript archive to MCP clients
// over stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/config"
	"github.com/jwulff/interview/internal/logging"
	"github.com/jwulff/interview/internal/mcpserver"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "config file")
	dbPath := flag.String("db", "", "archive database, overrides archive.path")
	flag.Parse()

	src, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "interview-mcp:", err)
		os.Exit(1)
	}
	cfg := src.Config()

	// stdout carries the protocol, so logs only go to the file.
	logOpts := cfg.Logging.Options("interview-mcp")
	logOpts.Console = false
	log, _, err := logging.Init(logOpts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "interview-mcp: failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	path := cfg.Archive.Path
	if *dbPath != "" {
		path = *dbPath
	}
	store, err := archive.OpenReadOnly(path)
	if err != nil {
		log.Error("Failed to open archive", zap.Error(err), zap.String("path", path))
		fmt.Fprintln(os.Stderr, "interview-mcp:", err)
		os.Exit(1)
	}
	defer store.Close()

	log.Info("Serving archive over MCP", zap.String("path", path), zap.String("version", version))
	if err := mcpserver.ServeStdio(mcpserver.New(store, version, log)); err != nil {
		log.Error("MCP server stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, "interview-mcp:", err)
		os.Exit(1)
	}
}
