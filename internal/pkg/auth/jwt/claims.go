package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of an identity token.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// Username is the directory key of the authenticated identity.
	Username string `json:"username"`
}
