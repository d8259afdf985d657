// models/student.go
package models

import "time"

type Student struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"size:36;not null;uniqueIndex:idx_students_tenant_admission" json:"tenant_id"`

	AdmissionNo string `gorm:"size:40;not null;uniqueIndex:idx_students_tenant_admission" json:"admission_no"`
	FirstName   string `gorm:"size:100;not null" json:"first_name"`
	LastName    string `gorm:"size:100;not null" json:"last_name"`

	GuardianName  string `gorm:"size:180" json:"guardian_name"`
	GuardianEmail string `gorm:"size:180" json:"guardian_email"`
	GuardianPhone string `gorm:"size:20" json:"guardian_phone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Student) FullName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}
