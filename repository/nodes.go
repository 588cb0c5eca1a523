package repository

import (
	"errors"
	"fmt"
	"time"

	"pharmabot/repository/models"

	"gorm.io/gorm"
)

// ListNodes returns the whole fleet in slot order, with any bound medication
// preloaded.
func (r *Repository) ListNodes() ([]models.HardwareNode, *RepositoryError) {
	var nodes []models.HardwareNode
	if err := r.db.Preload("AssignedMedication").Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, databaseError(err)
	}
	return nodes, nil
}

// GetNode returns one fleet node by id.
func (r *Repository) GetNode(id int64) (*models.HardwareNode, *RepositoryError) {
	var node models.HardwareNode
	err := r.db.Preload("AssignedMedication").First(&node, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("Machine not found", fmt.Sprintf("Hardware node with id %d does not exist", id))
		}
		return nil, databaseError(err)
	}
	return &node, nil
}

// UpdateNodeConfig rebinds a node's address, label and medication
// assignment. A node with no address cannot be reached, so clearing the
// address forces the node OFFLINE.
func (r *Repository) UpdateNodeConfig(id int64, address *string, medicationID *int64, label string) (*models.HardwareNode, *RepositoryError) {
	if medicationID != nil {
		var count int64
		if err := r.db.Model(&models.Medication{}).Where("id = ?", *medicationID).Count(&count).Error; err != nil {
			return nil, databaseError(err)
		}
		if count == 0 {
			return nil, notFoundError(
				"Medication does not exist",
				fmt.Sprintf("Medication with id %d does not exist", *medicationID),
			)
		}
	}

	updates := map[string]interface{}{
		"ipv6_address":           address,
		"assigned_medication_id": medicationID,
	}
	if label != "" {
		updates["location_label"] = label
	}
	if address == nil || *address == "" {
		updates["ipv6_address"] = nil
		updates["status"] = models.NodeStatusOffline
	}

	res := r.db.Model(&models.HardwareNode{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFoundError("Machine not found", fmt.Sprintf("Hardware node with id %d does not exist", id))
	}
	return r.GetNode(id)
}

// RecordNodeScan stores the latest scan observed at a node and marks the
// node ONLINE; a scan is proof of life. When the scan carries a UPC, the tag
// uid is synced onto the matching medication.
func (r *Repository) RecordNodeScan(nodeID int64, tagType, tagID, upc string) *RepositoryError {
	now := time.Now()
	res := r.db.Model(&models.HardwareNode{}).Where("id = ?", nodeID).Updates(map[string]interface{}{
		"status":         models.NodeStatusOnline,
		"last_scan_type": tagType,
		"last_scan_data": tagID,
		"last_heartbeat": &now,
	})
	if res.Error != nil {
		return databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError("Machine not found", fmt.Sprintf("Hardware node with id %d does not exist", nodeID))
	}

	if upc != "" && tagID != "" {
		err := r.db.Model(&models.Medication{}).Where("upc = ?", upc).Update("uid", tagID).Error
		if err != nil {
			return databaseError(err)
		}
	}
	return nil
}
