package models

import "time"

// Order status values. Transitions move forward only:
// PENDING -> PROCESSING -> READY -> ARCHIVED, ARCHIVED is terminal.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusReady      = "READY"
	OrderStatusArchived   = "ARCHIVED"
)

// Order represents a request for medication quantities on behalf of a patient
type Order struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PatientName string    `gorm:"column:patient_name;type:varchar(100);not null"`
	Status      string    `gorm:"column:status;type:varchar(20);default:'PENDING'"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// ValidOrderStatus reports whether s is one of the known order states.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusReady, OrderStatusArchived:
		return true
	}
	return false
}
