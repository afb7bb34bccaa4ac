/*
Package handler provides the HTTP handlers of the relay: account registration and login,
profile and image endpoints, and the WebSocket upgrade.
*/
package handler

import (
	"net/http"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// CredentialsInput is the body of register and login.
type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Token string       `json:"token"`
	User  user.Account `json:"user"`
}

// HandleRegister creates an identity, announces it to live sessions and logs it in.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		if deps.PoW.Enabled() && !deps.PoW.Redeem(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		identity, err := deps.Directory.Register(r.Context(), input.Username, input.Password)
		if err != nil {
			logx.Info("Registration refused", "username", input.Username, "error", err)
			resp.RespondError(w, r, errs.FromError(err))
			return
		}

		deps.Hub.IdentityRegistered(identity)

		respondWithToken(w, r, deps, identity)
	}
}

// HandleLogin verifies credentials and issues an identity token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		identity, err := deps.Directory.Authenticate(r.Context(), input.Username, input.Password)
		if err != nil {
			logx.Warn("Login refused", "username", input.Username)
			resp.RespondError(w, r, errs.FromError(err))
			return
		}

		respondWithToken(w, r, deps, identity)
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, identity user.Identity) {
	token, err := jwt.GenerateToken(&jwt.Payload{Username: identity.Username}, deps.Config.JWTSecret, jwt.IdentityExpiration)
	if err != nil {
		logx.Error(err, "Failed to generate identity token", "username", identity.Username)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, AuthResult{Token: token, User: identity.Account()})
}
