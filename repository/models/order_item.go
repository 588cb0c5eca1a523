package models

// Order item status values
const (
	ItemStatusPending = "PENDING"
	ItemStatusPicked  = "PICKED"
)

// OrderItem links an order to a medication line with its own pick status
type OrderItem struct {
	ID           int64       `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID      int64       `gorm:"column:order_id;index;not null"`
	Order        *Order      `gorm:"foreignKey:OrderID"`
	MedicationID int64       `gorm:"column:medication_id;index;not null"`
	Medication   *Medication `gorm:"foreignKey:MedicationID"`
	Quantity     int         `gorm:"column:quantity;not null"`
	Status       string      `gorm:"column:status;type:varchar(20);default:'PENDING'"`
}
