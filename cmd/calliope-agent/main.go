package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/calliope-ai/calliope/internal/adapters/httpapi"
	"github.com/calliope-ai/calliope/internal/adapters/llm"
	firestorestore "github.com/calliope-ai/calliope/internal/adapters/storage/firestore"
	memstore "github.com/calliope-ai/calliope/internal/adapters/storage/memory"
	pgstore "github.com/calliope-ai/calliope/internal/adapters/storage/postgres"
	s3store "github.com/calliope-ai/calliope/internal/adapters/storage/s3"
	sqlitestore "github.com/calliope-ai/calliope/internal/adapters/storage/sqlite"
	"github.com/calliope-ai/calliope/internal/adapters/transport"
	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	// LLM: mock or Vertex
	var (
		completion domain.CompletionClient
		err        error
	)
	if cfg.UseMockLLM {
		log.Println("[LLM] Using MOCK completion client")
		completion = llm.NewMockLLM()
	} else {
		log.Println("[LLM] Using Vertex completion client")
		completion, err = llm.NewVertexClient(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.ModelName)
		if err != nil {
			log.Fatalf("error initializing Vertex client: %v", err)
		}
	}

	// Record store
	var records domain.RecordStore
	switch cfg.StorageBackend {
	case "sqlite":
		log.Printf("[STORE] Using SQLite storage (path=%s)", cfg.SQLitePath)
		records, err = sqlitestore.NewStore(ctx, cfg.SQLitePath)
	case "postgres":
		log.Println("[STORE] Using Postgres storage")
		records, err = pgstore.NewStore(ctx, cfg.PostgresDSN)
	case "firestore":
		log.Printf("[STORE] Using Firestore storage (project=%s)", cfg.FirestoreProject)
		records, err = firestorestore.NewStore(ctx, cfg.FirestoreProject)
	default:
		log.Println("[STORE] Using in-memory storage")
		records = memstore.NewRecordStore()
	}
	if err != nil {
		log.Fatalf("error initializing record store: %v", err)
	}

	// Blob store
	var blobs domain.BlobStore
	if cfg.BlobBackend == "s3" {
		log.Printf("[BLOB] Using S3 storage (bucket=%s)", cfg.S3Bucket)
		blobs, err = s3store.NewStore(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			log.Fatalf("error initializing s3 store: %v", err)
		}
	} else {
		log.Println("[BLOB] Using in-memory blob storage")
		blobs = memstore.NewBlobStore()
	}

	// Transport
	var delivery domain.Transport
	if cfg.TransportBackend == "telegram" {
		log.Println("[TRANSPORT] Using Telegram transport")
		delivery = transport.NewTelegramTransport(cfg.TelegramToken)
	} else {
		log.Println("[TRANSPORT] Using log transport")
		delivery = transport.NewLogTransport()
	}

	registry := engine.NewRegistry(engine.Config{
		SessionGap:      cfg.SessionGap,
		CacheLimit:      cfg.CacheLimit,
		OutreachAfter:   cfg.OutreachAfter,
		OutreachBefore:  cfg.OutreachBefore,
		Retention:       cfg.Retention,
		ActiveHourStart: cfg.ActiveHourStart,
		ActiveHourEnd:   cfg.ActiveHourEnd,
		MaintenanceHour: cfg.MaintenanceHour,
		UTCOffset:       cfg.UTCOffset,
		SystemPrompt:    cfg.Personality(""),
	}, engine.Deps{
		Completion: completion,
		Records:    records,
		Blobs:      blobs,
		Transport:  delivery,
	})

	ticks := scheduler.New(registry)
	ticks.Start(ctx)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.NewServer(registry, records),
	}

	go func() {
		log.Println("calliope listening on port:", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	ticks.Stop()
	// Close every open session so restarts begin from a clean boundary.
	registry.Shutdown(shutdownCtx)
}
