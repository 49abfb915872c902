package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wendui/wendui/internal/agent"
	"github.com/wendui/wendui/internal/background"
	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/chatruntime"
	"github.com/wendui/wendui/internal/config"
	"github.com/wendui/wendui/internal/httpapi"
	"github.com/wendui/wendui/internal/llm"
	"github.com/wendui/wendui/internal/observability"
	"github.com/wendui/wendui/internal/provider"
	"github.com/wendui/wendui/internal/skill"
	"github.com/wendui/wendui/internal/stream"
	"github.com/wendui/wendui/internal/suggest"
)

func main() {
	// Optional; production deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	chatStore, err := chat.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("chat store init failed: %v", err)
	}
	defer chatStore.Close()

	skillStore, err := skill.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("skill store init failed: %v", err)
	}
	defer skillStore.Close()

	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("provider registry init failed: %v", err)
	}
	log.Printf("provider registry loaded with %d models", len(registry.ListModels()))

	client := llm.NewOpenAIClient(registry)
	router := agent.NewRouter(client, metrics)
	generator := skill.NewGenerator(client, cfg.SkillContentMaxLen)
	suggestions := suggest.NewSuggestionMiner(client, chatStore, skillStore, nil, metrics)
	drafts := suggest.NewDraftMiner(client, chatStore, skillStore, generator, metrics)

	broker := stream.NewBroker(cfg.StreamQueueSize)
	broker.SetDropHook(func(conversationID string) {
		metrics.DroppedPayloads.Inc()
		log.Printf("stream.payload_dropped conversation=%s", conversationID)
	})

	tasks := background.NewTasks()
	service := chatruntime.NewService(chatStore, skillStore, registry, router, broker, suggestions, drafts, tasks, metrics, cfg.HistoryLimit)

	api := httpapi.New(cfg, chatStore, skillStore, registry, service, drafts, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Let in-flight producers and miners run to completion so partial turns
	// are persisted.
	tasks.Wait()

	log.Printf("shutdown complete")
}
