package http

import (
	"github.com/otp-gateway/internal/application/otp"
	"github.com/otp-gateway/internal/domain"
	jwtinfra "github.com/otp-gateway/internal/infrastructure/jwt"
)

// Deps holds the wired dependencies for the router. Senders maps every
// configured delivery channel to its adapter; channels without an adapter
// are reported as delivery failures and skipped by the fallback loop.
type Deps struct {
	Store       otp.RecordStore
	Senders     map[domain.Channel]otp.Sender
	JWTProvider *jwtinfra.Provider
}
