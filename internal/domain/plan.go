/**
 * @description
 * Plan domain model. Plans are read-mostly: the service only ever reads them,
 * administrative updates happen out of band.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Plan maps to the `plans` table. Prices are in the smallest currency unit.
type Plan struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	PriceMonthly  *int64          `json:"price_monthly,omitempty"`
	PriceAnnually *int64          `json:"price_annually,omitempty"`
	Currency      string          `json:"currency"`
	Features      json.RawMessage `json:"features,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
