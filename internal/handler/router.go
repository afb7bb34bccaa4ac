/*
This file defines the main Router, applying logging, CORS and IP-based rate limiting before
delegating to the REST handlers and the WebSocket endpoint.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
	"relaychat/internal/pkg/resp"
)

const (
	AuthRate  = 0.2
	AuthBurst = 5
	JoinRate  = 0.5
	JoinBurst = 10
)

// Router sets up the main HTTP routing table for the application.
func Router(deps *AppDeps) http.Handler {
	authLimiter := limiter.NewIPRateLimiter(rate.Limit(AuthRate), AuthBurst)
	joinLimiter := limiter.NewIPRateLimiter(rate.Limit(JoinRate), JoinBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients such as the terminal client send no Origin.
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", pow.TokenHeaderKey},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "relaychat",
		})
	})

	r.Group(func(authed chi.Router) {
		authed.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		authed.Route("/api", func(api chi.Router) {
			api.Route("/auth", func(auth chi.Router) {
				auth.Use(authLimiter.Middleware)
				auth.Post("/register", HandleRegister(deps))
				auth.Post("/login", HandleLogin(deps))
			})

			api.Route("/pow", func(p chi.Router) {
				p.Get("/challenge", HandlePowChallenge(deps))
				p.Post("/verify", HandlePowVerify(deps))
			})

			api.Get("/users", HandleListUsers(deps))

			api.Route("/user", func(user chi.Router) {
				user.Get("/profile", HandleGetUserProfile(deps))
				user.Post("/profile", HandleUpdateUserProfile(deps))
				user.Post("/avatar/presign", HandlePresignAvatarURL(deps))
			})

			api.Post("/file/presign-upload", HandlePresignChatMessageURL(deps))
			api.Get("/file/presign-download", HandlePresignDownloadURL(deps))
		})

		authed.Get("/ws", HandleWebSocket(deps, wsUpgrader, joinLimiter))
	})

	return r
}
