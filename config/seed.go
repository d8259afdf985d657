package config

import (
	"github.com/manodhiambo/school-management-system-sub003/models"

	"gorm.io/gorm"
)

func demoStudents(tenantID string) []models.Student {
	return []models.Student{
		{TenantID: tenantID, AdmissionNo: "ADM-0001", FirstName: "Achieng", LastName: "Otieno", GuardianName: "Mary Otieno", GuardianPhone: "0712345678"},
		{TenantID: tenantID, AdmissionNo: "ADM-0002", FirstName: "Kamau", LastName: "Njoroge", GuardianName: "Peter Njoroge", GuardianPhone: "0722000111"},
		{TenantID: tenantID, AdmissionNo: "ADM-0003", FirstName: "Wanjiru", LastName: "Mwangi", GuardianName: "Grace Mwangi", GuardianPhone: "0110000222"},
	}
}

// SeedStudents inserts the demo students that are missing and returns all of them.
func SeedStudents(db *gorm.DB, tenantID string) ([]models.Student, error) {
	out := make([]models.Student, 0, 3)
	for _, s := range demoStudents(tenantID) {
		var existing models.Student
		err := db.Where("tenant_id = ? AND admission_no = ?", tenantID, s.AdmissionNo).
			Limit(1).Find(&existing).Error
		if err != nil {
			return nil, err
		}
		if existing.ID == 0 {
			if err := db.Create(&s).Error; err != nil {
				return nil, err
			}
			existing = s
		}
		out = append(out, existing)
	}
	return out, nil
}
