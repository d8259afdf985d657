package config

import (
	"github.com/manodhiambo/school-management-system-sub003/models"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Student{},
		&models.Invoice{},
		&models.Payment{},
		&models.MpesaTransaction{},
		&models.Sequence{},
	)
}
