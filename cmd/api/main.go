package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/summarizer/summary-chat/internal/config"
	"github.com/summarizer/summary-chat/internal/handler"
	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/internal/service/assistant"
	"github.com/summarizer/summary-chat/internal/service/chat"
	"github.com/summarizer/summary-chat/internal/service/conversation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	summaries, err := loadSummaries(cfg.SummariesFile)
	if err != nil {
		log.Fatalf("failed to load summaries: %v", err)
	}

	store, closeStore, err := openConversationStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer closeStore.Close()

	prompts := assistant.NewPromptBuilder(assistant.DefaultTemplate())
	responder := newResponder(ctx, cfg.AI, prompts)

	router := handler.NewRouter(handler.Dependencies{
		Summaries:     summaries,
		Chat:          chat.NewService(),
		Conversations: conversation.NewService(store),
		Responder:     responder,
		Prompts:       prompts,
		APIToken:      cfg.Server.APIToken,
	})

	if cfg.Server.APIToken == "" {
		log.Println("API_TOKEN 未配置，接口鉴权已关闭")
	}
	startServer(ctx, cfg.Server, router)
}

func loadSummaries(path string) (summary.Store, error) {
	if path == "" {
		return summary.NewMemoryStore(summary.Seed()), nil
	}
	items, err := summary.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d summaries from %s", len(items), path)
	return summary.NewMemoryStore(items), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openConversationStore(ctx context.Context, cfg config.StoreConfig) (conversation.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		store, err := conversation.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("conversation store: sqlite (%s)", cfg.SQLitePath)
		return store, store, nil
	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		store, err := conversation.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, cfg.DynamoUserIndex)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("conversation store: dynamodb (table=%s, index=%s)", cfg.DynamoTable, cfg.DynamoUserIndex)
		return store, nopCloser{}, nil
	default:
		log.Println("conversation store: memory")
		return conversation.NewMemoryStore(), nopCloser{}, nil
	}
}

func newResponder(ctx context.Context, cfg config.AIConfig, prompts *assistant.PromptBuilder) assistant.Responder {
	if !cfg.Enabled() {
		log.Println("Ark 凭证未配置，使用摘要内容直接回答")
		return assistant.NewFallbackResponder()
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		log.Printf("warning: failed to initialize chat model: %v", err)
		log.Println("continuing with summary-only answers - 请检查 Ark 模型相关环境变量")
		return assistant.NewFallbackResponder()
	}

	responder, err := assistant.NewLLMResponder(ctx, chatModel, prompts)
	if err != nil {
		log.Printf("warning: failed to initialize AI responder: %v", err)
		return assistant.NewFallbackResponder()
	}
	log.Println("AI responder initialized successfully")
	return responder
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("summary chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
