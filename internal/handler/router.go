package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/zhouzirui/voicelink/backend/internal/handler/chat"
	gatewayhandler "github.com/zhouzirui/voicelink/backend/internal/handler/gateway"
	middlewarePkg "github.com/zhouzirui/voicelink/backend/internal/middleware"
	"github.com/zhouzirui/voicelink/backend/internal/service/assistant"
	gatewayservice "github.com/zhouzirui/voicelink/backend/internal/service/gateway"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(gatewaySvc *gatewayservice.Service, journalStore *journal.Store, assistantSvc *assistant.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	gatewayHandler := gatewayhandler.New(gatewaySvc, journalStore)
	wsHandler := gatewayhandler.NewWebSocketHandler(gatewaySvc)
	chatHandler := chathandler.New(assistantSvc, journalStore)

	gatewayHandler.RegisterRoutes(r)
	wsHandler.RegisterWebSocketRoutes(r)
	chatHandler.RegisterRoutes(r)

	return r
}
