package handler

import (
	"net/http"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/storage"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
	"relaychat/internal/pkg/resp"
)

// AppDeps carries everything the handlers need.
type AppDeps struct {
	Config    *configs.AppConfig
	Hub       *chat.Hub
	Directory *directory.Directory

	// Storage is nil when no bucket is configured; upload endpoints then answer ErrFileStorageFailed.
	Storage storage.Service

	PoW *pow.Manager
}

// requireIdentity returns the caller's token payload, or answers ErrUnauthorized.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*jwt.Payload, bool) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return nil, false
	}
	return payload, true
}
