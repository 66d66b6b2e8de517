// Package httpapi wires the HTTP edge (Gin) to the realtime coordination
// core: the WebSocket endpoint, health, and metrics. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging, panic
// recovery, CORS, and upgrade-edge rate limiting.
//
// Middleware ordering is deliberate: RequestID before Logger so access logs
// carry the correlation ID, Recovery after Logger so panics are captured
// with structured context, and the upgrade limiter scoped to /ws only.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/auth"
	"github.com/tbourn/go-chat-realtime/internal/chat"
	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/store"
	"github.com/tbourn/go-chat-realtime/internal/ws"
)

// messageRepoShim adapts the repository free functions to the chat.MessageRepo
// interface consumed by the send pipeline. This keeps the chat package
// decoupled from the concrete repo package while reusing existing functions.
type messageRepoShim struct{ db *gorm.DB }

func (s messageRepoShim) FindByClientID(ctx context.Context, clientMessageID string) (*domain.Message, error) {
	return repo.FindMessageByClientID(ctx, s.db, clientMessageID)
}

func (s messageRepoShim) Create(ctx context.Context, in repo.CreateMessageInput) (*domain.Message, error) {
	return repo.CreateMessage(ctx, s.db, in)
}

func (s messageRepoShim) MarkRead(ctx context.Context, messageID string) error {
	return repo.MarkMessageRead(ctx, s.db, messageID)
}

// conversationRepoShim adapts membership queries to chat.ConversationRepo.
type conversationRepoShim struct{ db *gorm.DB }

func (s conversationRepoShim) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return repo.IsParticipant(ctx, s.db, conversationID, userID)
}

func (s conversationRepoShim) CountParticipants(ctx context.Context, conversationID string) (int, error) {
	return repo.CountParticipants(ctx, s.db, conversationID)
}

// receiptRepoShim adapts receipt persistence to chat.ReceiptRepo.
type receiptRepoShim struct{ db *gorm.DB }

func (s receiptRepoShim) Exists(ctx context.Context, messageID, userID string) (bool, error) {
	return repo.ReceiptExists(ctx, s.db, messageID, userID)
}

func (s receiptRepoShim) Create(ctx context.Context, messageID, userID string, readAt time.Time) (*domain.Receipt, error) {
	return repo.CreateReceipt(ctx, s.db, messageID, userID, readAt)
}

func (s receiptRepoShim) Count(ctx context.Context, messageID string) (int, error) {
	return repo.CountReceipts(ctx, s.db, messageID)
}

func (s receiptRepoShim) UpsertLastRead(ctx context.Context, conversationID, userID, messageID string, readAt time.Time) error {
	return repo.UpsertLastRead(ctx, s.db, conversationID, userID, messageID, readAt)
}

// App bundles the long-lived pieces the router constructs, so main can drive
// the shutdown sequence (close connections, flush receipts) in order.
type App struct {
	Coordinator *chat.Coordinator
	Hub         *ws.Hub
}

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine and wires the realtime core: repo shims, coordinator, token
// verifier, hub, and the WebSocket server. It returns the constructed App
// for lifecycle management.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, st store.Store, cfg config.Config) *App {
	r.HandleMethodNotAllowed = true

	// Trace all HTTP requests.
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// CORS. The WebSocket handshake is also covered by the upgrader's own
	// origin check; this handles preflight and the plain HTTP endpoints.
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": "method_not_allowed", "message": "method not allowed"})
	})

	// Health reports liveness plus which ephemeral-state backend is active,
	// so a degraded (memory-mode) instance is visible to operators.
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbState := "ok"
		if sqlDB, err := db.DB(); err != nil {
			dbState = "error"
			status = http.StatusServiceUnavailable
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbState = "error"
			status = http.StatusServiceUnavailable
		}

		storeState := "ok"
		if err := st.Ping(ctx); err != nil {
			storeState = "error"
			status = http.StatusServiceUnavailable
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"db":      dbState,
			"store":   storeState,
			"backend": st.Name(),
		})
	})

	// Dependency injection: coordinator ← shims/store/config.
	coord := chat.NewCoordinator(cfg.Realtime, st,
		messageRepoShim{db: db},
		conversationRepoShim{db: db},
		receiptRepoShim{db: db},
	)
	verifier := auth.NewVerifier(cfg.Auth, st)
	hub := ws.NewHub()
	wsSrv := ws.NewServer(hub, coord, verifier, cfg.Realtime, cfg.CORS.AllowedOrigins)

	// The upgrade limiter guards only the handshake; in-connection send
	// limiting is handled by the coordinator's sliding window.
	rl := middleware.NewRateLimiter(cfg.UpgradeRPS, cfg.UpgradeBurst, middleware.KeyByIP())
	r.GET("/ws", rl.Handler(), func(c *gin.Context) {
		wsSrv.ServeWS(c.Writer, c.Request)
	})

	return &App{Coordinator: coord, Hub: hub}
}
