package models

import "github.com/google/uuid"

// Owner is the read-only projection of the identity service's user table.
type Owner struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email"`
	FirstName string    `gorm:"column:first_name"`
	LastName  string    `gorm:"column:last_name"`
}

func (Owner) TableName() string {
	return "users"
}
