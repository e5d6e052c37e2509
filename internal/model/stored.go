package model

import "time"

// StoredEntity is a candidate row from the persistence layer, the shape
// the identity resolver matches incoming entities against.
type StoredEntity struct {
	ID          string      `json:"id"`
	Kind        EntityKind  `json:"kind"`
	OwnerKey    string      `json:"owner_key"`
	Identifiers Identifiers `json:"identifiers"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
