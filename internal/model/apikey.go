package model

import "time"

// APIKey is a stored trigger credential. The raw key is shown to the operator
// once at issuance and never persisted; only a bcrypt hash and a short prefix
// for identification are kept.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	KeyHash    string     `json:"-" db:"key_hash"`            // bcrypt hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 8 chars for identification
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsActive reports whether the key can still authenticate trigger requests.
func (k APIKey) IsActive() bool {
	return k.RevokedAt == nil
}
