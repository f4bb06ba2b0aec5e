// starbridge runs the intelligence-report orchestrator's HTTP API.
// Grounded on tarsy's cmd/tarsy/main.go bootstrap (flag/godotenv/
// getEnv/gin.SetMode/gin.Default/router.Run).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/TenSpy-ai/starbridge/internal/admission"
	"github.com/TenSpy-ai/starbridge/internal/api"
	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/generator"
	"github.com/TenSpy-ai/starbridge/internal/pipeline"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/toolserver"
	"github.com/TenSpy-ai/starbridge/internal/publisher"
	"github.com/TenSpy-ai/starbridge/internal/signals"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	ctx := context.Background()

	dbConfig := store.DefaultConfig()
	if p := os.Getenv("DB_PATH"); p != "" {
		dbConfig.Path = p
	}
	st, err := store.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("error closing store: %v", err)
		}
	}()
	log.Println("store ready at", dbConfig.Path)

	signalsClient := signals.New(getEnv("SIGNALS_BASE_URL", "https://api.signals.example.com"), os.Getenv("SIGNALS_API_KEY"))
	publisherClient := publisher.New(getEnv("PUBLISHER_BASE_URL", "https://api.notion.com/v1"), os.Getenv("PUBLISHER_API_KEY"))

	generatorClient, err := generator.New(getEnv("GENERATOR_MODEL", "claude-sonnet-4"))
	if err != nil {
		log.Fatalf("failed to construct generator client: %v", err)
	}

	cfgRegistry, err := config.NewRegistryFromFile(filepath.Join(*configDir, "starbridge.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// s12's tool-mode publish call needs something to dial. Stand up the
	// in-process MCP tool endpoint by default so that branch is actually
	// exercised; MCP_SERVER_URL still overrides it for pointing the CLI
	// at a real external MCP deployment instead.
	toolSrv := toolserver.New(publisherClient, os.Getenv("PUBLISHER_API_KEY"), cfgRegistry.Snapshot().PublisherToolAlias, os.Getenv("NOTION_PARENT_PAGE_ID"))
	mcpServerURL, err := toolSrv.Start()
	if err != nil {
		log.Fatalf("failed to start mcp tool server: %v", err)
	}
	defer func() {
		if err := toolSrv.Stop(context.Background()); err != nil {
			log.Printf("error stopping mcp tool server: %v", err)
		}
	}()
	if override := os.Getenv("MCP_SERVER_URL"); override != "" {
		mcpServerURL = override
	}

	orch := &pipeline.Orchestrator{
		Store:              st,
		Signals:            signalsClient,
		Generator:          generatorClient,
		Publisher:          publisherClient,
		Config:             cfgRegistry,
		MCPServerURL:       mcpServerURL,
		PublisherAPIKeyEnv: "PUBLISHER_API_KEY",
		ParentPageID:       os.Getenv("NOTION_PARENT_PAGE_ID"),
	}

	admissionController := admission.New(st, cfgRegistry, orch, int64(cfgRegistry.Snapshot().MaxConcurrentRuns))

	server := api.NewServer(st, admissionController, cfgRegistry)

	slog.Info("starbridge starting", "http_port", httpPort, "config_dir", *configDir)
	if err := server.Router().Run(":" + httpPort); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
