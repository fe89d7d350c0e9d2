package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vntrieu/mixplay/internal/feed"
	"github.com/vntrieu/mixplay/internal/httpapi/handler"
	"github.com/vntrieu/mixplay/internal/ratelimit"

	_ "github.com/vntrieu/mixplay/docs" // swag-generated docs
)

// RouterDeps wires the control API. Nil Interactive or Chat makes their routes answer 503.
type RouterDeps struct {
	Interactive handler.InteractiveRunner
	Chat        handler.ChatRunner
	Archive     handler.ArchiveReader
	// Feed serves GET /api/events when set.
	Feed *feed.Hub

	AdminUser         string
	AdminPasswordHash string
	TokenSecret       []byte
	// LoginLimiter throttles POST /api/login per IP. Nil disables it.
	LoginLimiter ratelimit.Limiter
	CORSOrigins  []string
}

// NewRouter builds the control API router.
//
// @title            Mixplay control API
// @version          1.0
// @description      Drives the interactive session and chat rooms of a running mixplayd.
// @BasePath         /
// @SecurityDefinitions.apikey  BearerAuth
// @in               header
// @name             Authorization
func NewRouter(deps RouterDeps) http.Handler {
	if deps.LoginLimiter == nil {
		deps.LoginLimiter = ratelimit.Noop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", handler.Healthz)

	// Swagger UI and generated spec (from swag comments)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	authHandler := handler.NewAuthHandler(deps.AdminUser, deps.AdminPasswordHash, deps.TokenSecret)
	interactiveHandler := handler.NewInteractiveHandler(deps.Interactive)
	chatHandler := handler.NewChatHandler(deps.Chat, deps.Archive)

	r.Route("/api", func(r chi.Router) {
		r.Use(LimitRequestBody(DefaultMaxBodyBytes))
		r.With(RateLimitMiddleware(deps.LoginLimiter, RateLimitKeyByIP)).Post("/login", authHandler.Login)
		if deps.Feed != nil {
			// The feed checks the token itself, from the header or the token query parameter.
			r.Get("/events", feed.NewHandler(deps.Feed, deps.TokenSecret, deps.CORSOrigins).ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(deps.TokenSecret))

			r.Get("/interactive", interactiveHandler.Status)
			r.Post("/interactive/start", interactiveHandler.Start)
			r.Post("/interactive/stop", interactiveHandler.Stop)
			r.Get("/participants", interactiveHandler.Participants)
			r.Post("/groups", interactiveHandler.CreateGroup)
			r.Put("/groups/{group}/scene", interactiveHandler.SetScene)
			r.Post("/groups/{group}/participants", interactiveHandler.MoveParticipant)
			r.Get("/controls/{control}", interactiveHandler.Control)
			r.Post("/controls/{control}/cooldown", interactiveHandler.Cooldown)

			r.Route("/chat/rooms", func(r chi.Router) {
				r.Get("/", chatHandler.Rooms)
				r.Post("/", chatHandler.Join)
				r.Get("/{room}", chatHandler.Room)
				r.Delete("/{room}", chatHandler.Leave)
				r.Get("/{room}/history", chatHandler.History)
				r.Get("/{room}/users", chatHandler.Users)
				r.Post("/{room}/messages", chatHandler.Send)
				r.Post("/{room}/polls", chatHandler.StartPoll)
				r.Post("/{room}/votes", chatHandler.Vote)
			})
		})
	})

	return r
}

// DefaultLoginLimiter allows perMinute login attempts per IP. Zero or less disables limiting.
func DefaultLoginLimiter(perMinute int) ratelimit.Limiter {
	if perMinute <= 0 {
		return ratelimit.Noop{}
	}
	return ratelimit.NewWindow(perMinute, time.Minute)
}
