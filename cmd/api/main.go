package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voicelink/backend/internal/config"
	"github.com/zhouzirui/voicelink/backend/internal/handler"
	"github.com/zhouzirui/voicelink/backend/internal/service/assistant"
	"github.com/zhouzirui/voicelink/backend/internal/service/dialog"
	gatewayservice "github.com/zhouzirui/voicelink/backend/internal/service/gateway"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
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

	if !cfg.Dialog.Enabled() {
		log.Println("warning: 豆包实时对话凭证未配置，上游连接将失败（需要 DOUBAO_APP_ID 与 DOUBAO_ACCESS_KEY）")
	}

	journalStore := journal.NewStore(cfg.Journal.Dir, cfg.Journal.Enabled)
	if cfg.Journal.Enabled {
		log.Printf("session journal enabled, dir=%s", cfg.Journal.Dir)
	} else {
		log.Println("session journal disabled by configuration")
	}

	gatewaySvc := gatewayservice.NewService(gatewayservice.Config{
		Upstream: dialog.ClientConfig{
			BaseURL:           cfg.Dialog.BaseURL,
			AppID:             cfg.Dialog.AppID,
			AccessKey:         cfg.Dialog.AccessKey,
			ResourceID:        cfg.Dialog.ResourceID,
			AppKey:            cfg.Dialog.AppKey,
			OutputAudioFormat: cfg.Dialog.OutputAudioFormat,
			OutputSampleRate:  cfg.Dialog.OutputSampleRate,
		},
		Defaults:          cfg.Dialog.SessionDefaults(),
		OutputAudioFormat: cfg.Dialog.OutputAudioFormat,
	}, gatewayservice.NewRegistry(), journalStore)

	var assistantSvc *assistant.Service
	if cfg.AI.Enabled() {
		assistantSvc, err = assistant.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize assistant service: %v", err)
			log.Println("continuing without text chat - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("assistant service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过单轮文本对话功能初始化")
	}

	router := handler.NewRouter(gatewaySvc, journalStore, assistantSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("VoiceLink gateway listening on %s", addr)
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
