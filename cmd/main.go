package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notebook/internal/types"
	"notebook/pkg/catalog"
	"notebook/pkg/chunker"
	cfgPkg "notebook/pkg/config"
	"notebook/pkg/engine"
	"notebook/pkg/extract"
	"notebook/pkg/llm"
	"notebook/pkg/store"
	"notebook/server"
)

func main() {
	config, mode, args := parseFlags()

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config:", e.Error())
		}
		os.Exit(1)
	}

	app, err := newApp(config)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	switch mode {
	case "serve":
		err = runServe(app, config)
	case "ingest":
		err = runIngest(app, args)
	case "chat":
		err = runChat(app, config)
	default:
		err = fmt.Errorf("unknown mode %q (expected serve, ingest or chat)", mode)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (*cfgPkg.Config, string, []string) {
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	baseURL := flag.String("ollama-url", "", "Ollama server URL")
	model := flag.String("model", "", "LLM model to use")
	embedModel := flag.String("embed-model", "", "Embedding model to use")
	dataDir := flag.String("data-dir", "", "Directory for catalog and index artifacts")
	backend := flag.String("backend", "", "Index store backend (file or pgvector)")
	dbURL := flag.String("db-url", "", "PostgreSQL connection string")
	addr := flag.String("addr", "", "HTTP listen address")
	flag.Parse()

	config, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags win over config file and environment
	if *baseURL != "" {
		config.LLM.BaseURL = *baseURL
	}
	if *model != "" {
		config.LLM.Model = *model
	}
	if *embedModel != "" {
		config.LLM.EmbedModel = *embedModel
	}
	if *dataDir != "" {
		config.Storage.DataDir = *dataDir
	}
	if *backend != "" {
		config.Storage.Backend = *backend
	}
	if *dbURL != "" {
		config.Storage.URL = *dbURL
	}
	if *addr != "" {
		config.Server.Addr = *addr
	}

	mode := "serve"
	args := flag.Args()
	if len(args) > 0 {
		mode = args[0]
		args = args[1:]
	}
	return config, mode, args
}

type app struct {
	catalog *catalog.Catalog
	indices types.IndexStore
	engine  *engine.Engine
}

func newApp(config *cfgPkg.Config) (*app, error) {
	cat, err := catalog.New(config.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %v", err)
	}

	// Documents left mid-build by a previous run can never recover
	if n, err := cat.FailStale(context.Background()); err != nil {
		cat.Close()
		return nil, fmt.Errorf("failed to reconcile catalog: %v", err)
	} else if n > 0 {
		log.Printf("marked %d interrupted document(s) as failed", n)
	}

	var indices types.IndexStore
	switch config.Storage.Backend {
	case "pgvector":
		indices, err = store.NewPGVectorStore(store.PGVectorConfig{
			ConnString: config.Storage.URL,
			TableName:  config.Storage.TableName,
			VectorDim:  config.Storage.VectorDim,
		})
	default:
		indices, err = store.NewFileIndexStore(config.Storage.DataDir)
	}
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("failed to initialize index store: %v", err)
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:      config.LLM.EmbedModel,
		BaseURL:    config.LLM.BaseURL,
		BatchSize:  config.Embedder.BatchSize,
		MaxRetries: config.Embedder.MaxRetries,
		RateLimit:  config.Embedder.RateLimit,
	})
	if err != nil {
		cat.Close()
		indices.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:         config.LLM.Model,
		BaseURL:       config.LLM.BaseURL,
		MaxTokens:     config.LLM.MaxTokens,
		Temperature:   *config.LLM.Temperature,
		ContextBudget: config.Query.ContextBudget,
		HistoryTurns:  config.Query.HistoryTurns,
	})
	if err != nil {
		cat.Close()
		indices.Close()
		return nil, fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	ch := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:    config.Chunker.ChunkSize,
		ChunkOverlap: *config.Chunker.ChunkOverlap,
	})

	eng := engine.New(cat, extract.NewPDFExtractor(), &ch, embedder, chatEngine,
		indices, engine.Config{
			KPerDoc: config.Query.KPerDoc,
			KTotal:  config.Query.KTotal,
		})

	return &app{catalog: cat, indices: indices, engine: eng}, nil
}

func (a *app) Close() {
	a.engine.Wait()
	if err := a.indices.Close(); err != nil {
		log.Printf("failed to close index store: %v", err)
	}
	if err := a.catalog.Close(); err != nil {
		log.Printf("failed to close catalog: %v", err)
	}
}

func runServe(a *app, config *cfgPkg.Config) error {
	srv := server.New(a.engine, server.Config{
		HistoryTurns: config.Query.HistoryTurns,
	})

	httpServer := &http.Server{
		Addr:    config.Server.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Printf("Listening on %s", config.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Print("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %v", err)
	}

	// Let in-flight index builds finish so the catalog stays consistent
	// with the stored artifacts
	a.engine.Wait()
	return nil
}
