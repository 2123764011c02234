/**
 * @description
 * Profile domain model. Profiles mirror users created by the external auth
 * provider; the profile ID is the provider's stable subject identifier, so a
 * row is auto-created the first time an authenticated user touches the API.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Profile maps to the `profiles` table.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	FirstName   *string   `json:"first_name,omitempty"`
	LastName    *string   `json:"last_name,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpdate carries the PATCHable profile fields. Nil means "leave as is".
type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}
