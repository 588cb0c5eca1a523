package repository

import (
	"errors"
	"fmt"

	"pharmabot/repository/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderLine is one requested medication quantity within an order.
type OrderLine struct {
	MedicationID int64 `json:"id"`
	Quantity     int   `json:"quantity"`
}

// aggregateLines totals quantities per medication, preserving first-seen
// order. An order may repeat a medication across lines; validation and the
// stock debit must see one total per medication, not each line against the
// same snapshot.
func aggregateLines(lines []OrderLine) ([]int64, map[int64]int) {
	ids := make([]int64, 0, len(lines))
	need := make(map[int64]int, len(lines))
	for _, line := range lines {
		if _, seen := need[line.MedicationID]; !seen {
			ids = append(ids, line.MedicationID)
		}
		need[line.MedicationID] += line.Quantity
	}
	return ids, need
}

// reserveStockTx decrements stock for every line inside the caller's
// transaction. All-or-nothing: if any medication's total exceeds available
// stock the call fails before mutating anything. Rows are locked so
// concurrent reservations serialize on the same medications.
func reserveStockTx(tx *gorm.DB, lines []OrderLine) *RepositoryError {
	ids, need := aggregateLines(lines)

	var meds []models.Medication
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&meds).Error
	if err != nil {
		return databaseError(err)
	}

	available := make(map[int64]int, len(meds))
	for _, med := range meds {
		available[med.ID] = med.Stock
	}

	for _, id := range ids {
		have, ok := available[id]
		if !ok {
			return notFoundError(
				"Medication does not exist",
				fmt.Sprintf("Medication with id %d does not exist", id),
			)
		}
		if have < need[id] {
			return insufficientStockError(id, have, need[id])
		}
	}

	for _, id := range ids {
		err := tx.Model(&models.Medication{}).
			Where("id = ?", id).
			Update("stock", gorm.Expr("stock - ?", need[id])).Error
		if err != nil {
			return databaseError(err)
		}
	}
	return nil
}

// restoreStockTx increments stock for every line. Never fails on business
// grounds; restoration is always safe.
func restoreStockTx(tx *gorm.DB, lines []OrderLine) *RepositoryError {
	for _, line := range lines {
		err := tx.Model(&models.Medication{}).
			Where("id = ?", line.MedicationID).
			Update("stock", gorm.Expr("stock + ?", line.Quantity)).Error
		if err != nil {
			return databaseError(err)
		}
	}
	return nil
}

// effectiveAvailableTx computes per-medication availability as seen by an
// order edit: current stock plus whatever the order being edited already
// holds. Lets the new line set be validated without a transient
// restore-then-reserve window.
func effectiveAvailableTx(tx *gorm.DB, orderID int64, lines []OrderLine) (map[int64]int, *RepositoryError) {
	ids, _ := aggregateLines(lines)

	var meds []models.Medication
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&meds).Error
	if err != nil {
		return nil, databaseError(err)
	}

	effective := make(map[int64]int, len(meds))
	for _, med := range meds {
		effective[med.ID] = med.Stock
	}

	var oldItems []models.OrderItem
	err = tx.Where("order_id = ?", orderID).Find(&oldItems).Error
	if err != nil {
		return nil, databaseError(err)
	}
	for _, item := range oldItems {
		if _, ok := effective[item.MedicationID]; ok {
			effective[item.MedicationID] += item.Quantity
		}
	}
	return effective, nil
}

// ListMedications returns the full catalog.
func (r *Repository) ListMedications() ([]models.Medication, *RepositoryError) {
	var meds []models.Medication
	if err := r.db.Order("id ASC").Find(&meds).Error; err != nil {
		return nil, databaseError(err)
	}
	return meds, nil
}

// GetMedication returns one catalog item by id.
func (r *Repository) GetMedication(id int64) (*models.Medication, *RepositoryError) {
	var med models.Medication
	err := r.db.First(&med, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("Item not found", fmt.Sprintf("Medication with id %d does not exist", id))
		}
		return nil, databaseError(err)
	}
	return &med, nil
}

// AddMedication registers a new catalog item, deriving its UPI.
func (r *Repository) AddMedication(med *models.Medication) *RepositoryError {
	if med.Name == "" || med.LocationCode == "" || med.UPC == "" {
		return validationError("Missing required fields: name, location_code, or upc")
	}
	if med.Stock < 0 {
		return validationError("Stock cannot be negative")
	}
	med.ComputeUPI()
	if err := r.db.Create(med).Error; err != nil {
		return databaseError(err)
	}
	return nil
}

// UpdateMedication replaces a catalog item's attributes, recomputing UPI.
func (r *Repository) UpdateMedication(id int64, med *models.Medication) *RepositoryError {
	if med.Name == "" || med.LocationCode == "" || med.UPC == "" {
		return validationError("Missing required fields: name, location_code, or upc")
	}
	if med.Stock < 0 {
		return validationError("Stock cannot be negative")
	}
	med.ComputeUPI()

	res := r.db.Model(&models.Medication{}).Where("id = ?", id).Updates(map[string]interface{}{
		"name":          med.Name,
		"dosage":        med.Dosage,
		"stock":         med.Stock,
		"location_code": med.LocationCode,
		"upc":           med.UPC,
		"photo_url":     med.PhotoURL,
		"upi":           med.UPI,
		"uid":           med.UID,
	})
	if res.Error != nil {
		return databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError("Item not found", fmt.Sprintf("Medication with id %d does not exist", id))
	}
	return nil
}

// DeleteMedication removes a catalog item. Callers are responsible for not
// deleting items still referenced by live orders.
func (r *Repository) DeleteMedication(id int64) *RepositoryError {
	res := r.db.Delete(&models.Medication{}, id)
	if res.Error != nil {
		return databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError("Item not found", fmt.Sprintf("Medication with id %d does not exist", id))
	}
	return nil
}
