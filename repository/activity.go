package repository

import (
	"pharmabot/repository/models"
)

// LogActivity records who did what. Audit writes never fail a request; an
// insert error is logged and dropped.
func (r *Repository) LogActivity(userID, userName, action, details string) {
	entry := models.ActivityLog{
		UserID:   userID,
		UserName: userName,
		Action:   action,
		Details:  details,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		r.logger.Error("Failed to write activity log", "action", action, "error", err)
	}
}

// ListActivityLogs returns the most recent audit entries, newest first.
func (r *Repository) ListActivityLogs() ([]models.ActivityLog, *RepositoryError) {
	var logs []models.ActivityLog
	if err := r.db.Order("timestamp DESC").Limit(100).Find(&logs).Error; err != nil {
		return nil, databaseError(err)
	}
	return logs, nil
}
