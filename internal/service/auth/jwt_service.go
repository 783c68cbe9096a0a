package auth

import (
	"context"
	"time"
)

// JWTService issues and checks the bearer tokens workers present to the API.
type JWTService interface {
	// GenerateToken creates a signed token whose subject is agentID.
	GenerateToken(ctx context.Context, agentID string) (string, error)

	// ValidateToken verifies tokenString and extracts its claims. Expired,
	// malformed and wrongly signed tokens return the matching sentinel error.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the verified contents of a worker token.
type Claims struct {
	// AgentID is the worker identity; it is also the token subject.
	AgentID string `json:"agent_id"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
