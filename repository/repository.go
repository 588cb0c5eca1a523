package repository

import (
	"fmt"
	"log/slog"
	"time"

	"pharmabot/repository/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Repository owns all database access for the backend.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(logger *slog.Logger) *Repository {
	return &Repository{logger: logger}
}

// ConnectDB opens the Postgres connection, retrying while the database
// container comes up.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		r.logger.Info("Connecting to Postgres", "attempt", i+1)
		db, err := gorm.Open(postgres.Open(dsn))
		if err == nil {
			r.db = db
			r.logger.Info("Connected to Postgres")
			return nil
		}
		lastErr = err
		r.logger.Warn("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("connecting to postgres: %w", lastErr)
}

// Migrate creates or updates the schema for all models.
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Medication{},
		&models.Order{},
		&models.OrderItem{},
		&models.HardwareNode{},
		&models.ActivityLog{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	r.logger.Info("Database migration completed")
	return nil
}

// Seed inserts the initial catalog and hardware fleet. Idempotent: skips any
// table that already has rows.
func (r *Repository) Seed(fleetSize int) error {
	var medCount int64
	r.db.Model(&models.Medication{}).Count(&medCount)
	if medCount == 0 {
		r.logger.Info("Seeding medications")
		meds := []models.Medication{
			{Name: "Amoxicillin", Dosage: "500mg", Stock: 100, LocationCode: "A-12", UPC: "300678112358"},
			{Name: "Lisinopril", Dosage: "10mg", Stock: 50, LocationCode: "B-05", UPC: "300678224466"},
			{Name: "Metformin", Dosage: "500mg", Stock: 200, LocationCode: "C-08", UPC: "300678335577"},
			{Name: "Atorvastatin", Dosage: "20mg", Stock: 80, LocationCode: "A-03", UPC: "300678446688"},
		}
		for i := range meds {
			meds[i].ComputeUPI()
			if err := r.db.Create(&meds[i]).Error; err != nil {
				r.logger.Error("Error seeding medication", "name", meds[i].Name, "err", err)
			}
		}
	}

	var nodeCount int64
	r.db.Model(&models.HardwareNode{}).Count(&nodeCount)
	if nodeCount == 0 {
		r.logger.Info("Seeding hardware nodes", "fleet_size", fleetSize)
		for i := 1; i <= fleetSize; i++ {
			node := models.HardwareNode{
				ID:            int64(i),
				LocationLabel: fmt.Sprintf("SLOT-%02d", i),
				Status:        models.NodeStatusOffline,
			}
			// First half of the fleet comes up online with addresses,
			// first four slots are bound to the seed medications.
			if i <= fleetSize/2 {
				addr := fmt.Sprintf("fe80::%dabc:123%d:def%d", i%9, i, i)
				node.IPv6Address = &addr
				node.Status = models.NodeStatusOnline
			}
			if i <= 4 {
				medID := int64(i)
				node.AssignedMedicationID = &medID
			}
			if err := r.db.Create(&node).Error; err != nil {
				r.logger.Error("Error seeding hardware node", "id", i, "err", err)
			}
		}
	}

	return nil
}
