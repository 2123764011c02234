/**
 * @description
 * API key domain models. Only a one-way hash and a short display prefix of a
 * key are ever persisted; the plaintext key is returned exactly once, in the
 * creation response.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// APIKey maps to the `api_keys` table.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"key_prefix"`
	Name      *string    `json:"name,omitempty"`
	Revoked   bool       `json:"revoked"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// CreateAPIKeyRequest is the DTO for key creation.
type CreateAPIKeyRequest struct {
	Name      *string    `json:"name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreatedAPIKey is the one-time creation response carrying the plaintext key.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}
