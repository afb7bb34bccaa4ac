package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket upgrades an authenticated request and runs the connection until it closes.
// The identity token travels in the Authorization header or the token query parameter.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		payload, ok := requireIdentity(w, r)
		if !ok {
			logx.Info("WebSocket connection rejected: missing or invalid token.")
			return
		}

		if _, found := deps.Directory.Lookup(payload.Username); !found {
			logx.Warn("WebSocket connection rejected: token for unknown identity.", "username", payload.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Hub, conn, payload.Username)
		if !deps.Hub.Register(client) {
			logx.Info("WebSocket connection closed: hub is shutting down.", "username", payload.Username)
			_ = conn.Close()
			return
		}

		go client.WritePump()

		client.ReadPump()
	}
}
