package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:client_credentials,alias:cc"`

	ID               string     `bun:"id,pk"`
	StorageKey       string     `bun:"storage_key,notnull"`
	Version          int        `bun:"version,notnull"`
	Payload          []byte     `bun:"payload,notnull"`
	PayloadFormat    string     `bun:"payload_format,notnull"`
	PayloadVersion   int        `bun:"payload_version,notnull"`
	SubjectID        string     `bun:"subject_id"`
	TokenType        string     `bun:"token_type"`
	ExpiresAt        *time.Time `bun:"expires_at,nullzero"`
	Status           string     `bun:"status,notnull"`
	RevocationReason string     `bun:"revocation_reason"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authEventRecord struct {
	bun.BaseModel `bun:"table:client_auth_events,alias:cae"`

	ID        string         `bun:"id,pk"`
	SignalID  string         `bun:"signal_id,notnull"`
	Reason    string         `bun:"reason,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

const (
	credentialStatusActive  = "active"
	credentialStatusRevoked = "revoked"
)
