package service

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Sequences allocates per-tenant counters. One upsert statement both
// creates and increments the row, so concurrent callers never share a value.
type Sequences struct{}

func (Sequences) Next(tx *gorm.DB, tenantID, scope string) (int64, error) {
	var next int64
	now := time.Now().UTC()
	err := tx.Raw(`
		INSERT INTO sequences (tenant_id, scope, last_value, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (tenant_id, scope)
		DO UPDATE SET last_value = sequences.last_value + 1, updated_at = ?
		RETURNING last_value`,
		tenantID, scope, now, now,
	).Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("allocate %s sequence: %w", scope, err)
	}
	if next == 0 {
		return 0, fmt.Errorf("allocate %s sequence: no value returned", scope)
	}
	return next, nil
}
