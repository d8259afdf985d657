package service

import (
	"errors"

	"github.com/manodhiambo/school-management-system-sub003/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SELECT ... FOR UPDATE; SQLite drops the clause.
func clauseUpdateLock() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func lockInvoice(tx *gorm.DB, tenantID string, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Clauses(clauseUpdateLock()).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("invoice %d", id)
		}
		return nil, err
	}
	return &inv, nil
}

func findStudent(tx *gorm.DB, tenantID string, id uint) (*models.Student, error) {
	var s models.Student
	err := tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("student %d", id)
		}
		return nil, err
	}
	return &s, nil
}
