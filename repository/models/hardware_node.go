package models

import "time"

// Hardware node status values
const (
	NodeStatusOnline  = "ONLINE"
	NodeStatusOffline = "OFFLINE"
)

// HardwareNode represents one of the fixed-location ESP32 endpoints the
// extraction robot visits. A node without a network address is always OFFLINE.
type HardwareNode struct {
	ID                   int64       `gorm:"column:id;primaryKey"` // 1..fleet size, seeded at provisioning
	LocationLabel        string      `gorm:"column:location_label;type:varchar(20)"`
	IPv6Address          *string     `gorm:"column:ipv6_address;type:varchar(100)"`
	Status               string      `gorm:"column:status;type:varchar(10);default:'OFFLINE'"`
	LastScanType         string      `gorm:"column:last_scan_type;type:varchar(10)"`
	LastScanData         string      `gorm:"column:last_scan_data;type:varchar(255)"`
	LastHeartbeat        *time.Time  `gorm:"column:last_heartbeat"`
	AssignedMedicationID *int64      `gorm:"column:assigned_medication_id;index"`
	AssignedMedication   *Medication `gorm:"foreignKey:AssignedMedicationID"`
}

// Addr returns the node's network address or "" when none is assigned.
func (n *HardwareNode) Addr() string {
	if n.IPv6Address == nil {
		return ""
	}
	return *n.IPv6Address
}
