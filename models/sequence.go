// models/sequence.go
package models

import "time"

// Sequence is a per-tenant counter; Scope is e.g. "RCP-202610".
type Sequence struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"size:36;not null;uniqueIndex:idx_sequences_tenant_scope" json:"tenant_id"`
	Scope     string    `gorm:"size:40;not null;uniqueIndex:idx_sequences_tenant_scope" json:"scope"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `json:"updated_at"`
}
