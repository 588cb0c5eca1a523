package models

// Medication represents a catalogued inventory item with a storage slot
type Medication struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string  `gorm:"column:name;type:varchar(100);not null"`
	Dosage       string  `gorm:"column:dosage;type:varchar(50)"`
	Stock        int     `gorm:"column:stock;not null;default:0"`
	LocationCode string  `gorm:"column:location_code;type:varchar(20)"`
	UPC          string  `gorm:"column:upc;type:varchar(50)"`
	UID          *string `gorm:"column:uid;type:varchar(100);uniqueIndex"` // asset tag from NFC/RFID
	PhotoURL     string  `gorm:"column:photo_url;type:varchar(255)"`
	UPI          string  `gorm:"column:upi;type:varchar(80)"` // upc + "-" + location_code

	// Relationships
	OrderItems []OrderItem `gorm:"foreignKey:MedicationID"`
}

// ComputeUPI derives the unique product identifier from UPC and location.
// Must be called whenever either field changes.
func (m *Medication) ComputeUPI() {
	m.UPI = m.UPC + "-" + m.LocationCode
}
