package repository

import (
	"errors"
	"fmt"

	"pharmabot/repository/models"

	"gorm.io/gorm"
)

// OrderItemDetail is the joined view of an order line used by the API.
type OrderItemDetail struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Quantity     int    `json:"quantity"`
	MedicationID int64  `json:"medication_id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	LocationCode string `json:"location_code"`
}

// PickCandidate is the unit of work the orchestrator schedules.
type PickCandidate struct {
	ItemID       int64
	OrderID      int64
	LocationCode string
	Name         string
}

// CreateOrder validates the request, reserves stock for every line and
// persists the order with its items, all in one transaction. Stock is
// reserved here, at creation time; picking never deducts a second time.
func (r *Repository) CreateOrder(patientName string, lines []OrderLine) (int64, *RepositoryError) {
	if patientName == "" || len(lines) == 0 {
		return 0, validationError("Invalid order data")
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return 0, validationError(fmt.Sprintf("Quantity for medication #%d must be positive", line.MedicationID))
		}
	}

	var orderID int64
	var repoErr *RepositoryError
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if repoErr = reserveStockTx(tx, lines); repoErr != nil {
			return repoErr
		}

		order := models.Order{
			PatientName: patientName,
			Status:      models.OrderStatusPending,
		}
		if err := tx.Create(&order).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}

		for _, line := range lines {
			item := models.OrderItem{
				OrderID:      order.ID,
				MedicationID: line.MedicationID,
				Quantity:     line.Quantity,
				Status:       models.ItemStatusPending,
			}
			if err := tx.Create(&item).Error; err != nil {
				repoErr = databaseError(err)
				return repoErr
			}
		}

		orderID = order.ID
		return nil
	})
	if err != nil {
		if repoErr != nil {
			return 0, repoErr
		}
		return 0, databaseError(err)
	}

	r.logger.Info("Order created", "order_id", orderID, "patient", patientName, "lines", len(lines))
	return orderID, nil
}

// EditOrder replaces the order's item set and patient name. Validation uses
// effective availability (current stock plus the order's own holdings) so a
// quantity change never trips over the order's existing reservation. The
// replace is destructive: old items are restored and deleted, new items
// reserved and inserted.
func (r *Repository) EditOrder(orderID int64, patientName string, lines []OrderLine) *RepositoryError {
	if patientName == "" || len(lines) == 0 {
		return validationError("Invalid order data")
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return validationError(fmt.Sprintf("Quantity for medication #%d must be positive", line.MedicationID))
		}
	}

	var repoErr *RepositoryError
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				repoErr = notFoundError("Order not found", fmt.Sprintf("Order with id %d does not exist", orderID))
			} else {
				repoErr = databaseError(err)
			}
			return repoErr
		}

		effective, rerr := effectiveAvailableTx(tx, orderID, lines)
		if rerr != nil {
			repoErr = rerr
			return repoErr
		}
		ids, need := aggregateLines(lines)
		for _, id := range ids {
			have, ok := effective[id]
			if !ok {
				repoErr = notFoundError(
					"Medication does not exist",
					fmt.Sprintf("Medication with id %d does not exist", id),
				)
				return repoErr
			}
			if have < need[id] {
				repoErr = insufficientStockError(id, have, need[id])
				return repoErr
			}
		}

		var oldItems []models.OrderItem
		if err := tx.Where("order_id = ?", orderID).Find(&oldItems).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		oldLines := make([]OrderLine, 0, len(oldItems))
		for _, item := range oldItems {
			oldLines = append(oldLines, OrderLine{MedicationID: item.MedicationID, Quantity: item.Quantity})
		}

		if repoErr = restoreStockTx(tx, oldLines); repoErr != nil {
			return repoErr
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		if repoErr = reserveStockTx(tx, lines); repoErr != nil {
			return repoErr
		}
		for _, line := range lines {
			item := models.OrderItem{
				OrderID:      orderID,
				MedicationID: line.MedicationID,
				Quantity:     line.Quantity,
				Status:       models.ItemStatusPending,
			}
			if err := tx.Create(&item).Error; err != nil {
				repoErr = databaseError(err)
				return repoErr
			}
		}

		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Update("patient_name", patientName).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		return nil
	})
	if err != nil {
		if repoErr != nil {
			return repoErr
		}
		return databaseError(err)
	}

	r.logger.Info("Order updated", "order_id", orderID, "patient", patientName)
	return nil
}

// DeleteOrder restores the stock held by the order's items, then removes the
// items and the order, as one transaction.
func (r *Repository) DeleteOrder(orderID int64) *RepositoryError {
	var repoErr *RepositoryError
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				repoErr = notFoundError("Order not found", fmt.Sprintf("Order with id %d does not exist", orderID))
			} else {
				repoErr = databaseError(err)
			}
			return repoErr
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		lines := make([]OrderLine, 0, len(items))
		for _, item := range items {
			lines = append(lines, OrderLine{MedicationID: item.MedicationID, Quantity: item.Quantity})
		}

		if repoErr = restoreStockTx(tx, lines); repoErr != nil {
			return repoErr
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		if err := tx.Delete(&models.Order{}, orderID).Error; err != nil {
			repoErr = databaseError(err)
			return repoErr
		}
		return nil
	})
	if err != nil {
		if repoErr != nil {
			return repoErr
		}
		return databaseError(err)
	}

	r.logger.Info("Order deleted, stock restored", "order_id", orderID)
	return nil
}

// GetOrders lists all orders, newest first.
func (r *Repository) GetOrders() ([]models.Order, *RepositoryError) {
	var orders []models.Order
	if err := r.db.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, databaseError(err)
	}
	return orders, nil
}

// GetOrder returns one order by id.
func (r *Repository) GetOrder(orderID int64) (*models.Order, *RepositoryError) {
	var order models.Order
	err := r.db.First(&order, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("Order not found", fmt.Sprintf("Order with id %d does not exist", orderID))
		}
		return nil, databaseError(err)
	}
	return &order, nil
}

// GetOrderItems returns the joined item detail rows for one order.
func (r *Repository) GetOrderItems(orderID int64) ([]OrderItemDetail, *RepositoryError) {
	var details []OrderItemDetail
	err := r.db.Table("order_items").
		Select("order_items.id, order_items.status, order_items.quantity, order_items.medication_id, medications.name, medications.dosage, medications.location_code").
		Joins("JOIN medications ON medications.id = order_items.medication_id").
		Where("order_items.order_id = ?", orderID).
		Order("order_items.id ASC").
		Scan(&details).Error
	if err != nil {
		return nil, databaseError(err)
	}
	return details, nil
}

// GetOrderItem returns one order item.
func (r *Repository) GetOrderItem(itemID int64) (*models.OrderItem, *RepositoryError) {
	var item models.OrderItem
	err := r.db.Preload("Medication").First(&item, itemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("Order item not found", fmt.Sprintf("Order item with id %d does not exist", itemID))
		}
		return nil, databaseError(err)
	}
	return &item, nil
}

// SetOrderStatus writes the order status directly. Intended for the
// READY/ARCHIVED administrative transitions.
func (r *Repository) SetOrderStatus(orderID int64, status string) *RepositoryError {
	if !models.ValidOrderStatus(status) {
		return validationError(fmt.Sprintf("Unknown order status %q", status))
	}
	res := r.db.Model(&models.Order{}).Where("id = ?", orderID).Update("status", status)
	if res.Error != nil {
		return databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError("Order not found", fmt.Sprintf("Order with id %d does not exist", orderID))
	}
	return nil
}

// MarkOrderProcessing moves a PENDING order to PROCESSING. A no-op for
// orders already past PENDING.
func (r *Repository) MarkOrderProcessing(orderID int64) *RepositoryError {
	err := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Update("status", models.OrderStatusProcessing).Error
	if err != nil {
		return databaseError(err)
	}
	return nil
}

// MarkItemPicked flips an item to PICKED. The parent order's status is left
// untouched: completion is the explicit complete/ready step, not inferred
// from the last pick.
func (r *Repository) MarkItemPicked(itemID int64) *RepositoryError {
	res := r.db.Model(&models.OrderItem{}).Where("id = ?", itemID).Update("status", models.ItemStatusPicked)
	if res.Error != nil {
		return databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError("Order item not found", fmt.Sprintf("Order item with id %d does not exist", itemID))
	}
	return nil
}

// NextPendingItem selects the single oldest pending item across all
// non-archived orders: FIFO by order creation time, ties broken by item id.
// Items in skip are excluded (orchestrator retry cap). Returns nil when no
// work is eligible.
func (r *Repository) NextPendingItem(skip []int64) (*PickCandidate, *RepositoryError) {
	var row struct {
		ItemID       int64
		OrderID      int64
		LocationCode string
		Name         string
	}

	q := r.db.Table("order_items").
		Select("order_items.id AS item_id, order_items.order_id, medications.location_code, medications.name").
		Joins("JOIN medications ON medications.id = order_items.medication_id").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("order_items.status = ?", models.ItemStatusPending).
		Where("orders.status <> ?", models.OrderStatusArchived)
	if len(skip) > 0 {
		q = q.Where("order_items.id NOT IN ?", skip)
	}

	res := q.Order("orders.created_at ASC, order_items.id ASC").Limit(1).Scan(&row)
	if res.Error != nil {
		return nil, databaseError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &PickCandidate{
		ItemID:       row.ItemID,
		OrderID:      row.OrderID,
		LocationCode: row.LocationCode,
		Name:         row.Name,
	}, nil
}

// DispenseOrder hands a READY order over and archives it.
func (r *Repository) DispenseOrder(orderID int64) (*models.Order, *RepositoryError) {
	var order models.Order
	err := r.db.First(&order, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("Order not found or not ready for pickup", fmt.Sprintf("Order with id %d does not exist", orderID))
		}
		return nil, databaseError(err)
	}
	if order.Status != models.OrderStatusReady {
		return nil, notFoundError(
			"Order not found or not ready for pickup",
			fmt.Sprintf("Order %d has status %s, must be READY", orderID, order.Status),
		)
	}

	if err := r.db.Model(&order).Update("status", models.OrderStatusArchived).Error; err != nil {
		return nil, databaseError(err)
	}
	order.Status = models.OrderStatusArchived
	return &order, nil
}
