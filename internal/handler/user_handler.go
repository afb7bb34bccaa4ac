package handler

import (
	"net/http"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// UpdateProfileInput replaces the caller's email and avatar URL.
type UpdateProfileInput struct {
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// HandleGetUserProfile returns the caller's account.
func HandleGetUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		identity, found := deps.Directory.Lookup(payload.Username)
		if !found {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		resp.RespondSuccess(w, r, identity.Account())
	}
}

// HandleUpdateUserProfile updates the caller's profile and republishes it to live sessions.
func HandleUpdateUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		var input UpdateProfileInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		identity, err := deps.Directory.UpdateProfile(r.Context(), payload.Username, input.Email, input.Avatar)
		if err != nil {
			resp.RespondError(w, r, errs.FromError(err))
			return
		}

		deps.Hub.ProfileChanged(identity)

		resp.RespondSuccess(w, r, identity.Account())
	}
}

// HandleListUsers returns the public directory with current avatars.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireIdentity(w, r); !ok {
			return
		}

		resp.RespondSuccess(w, r, deps.Directory.Profiles())
	}
}
