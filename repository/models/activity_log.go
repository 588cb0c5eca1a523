package models

import "time"

// ActivityLog records administrative actions with the caller identity
// passed through by the request layer.
type ActivityLog struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;type:varchar(50)"`
	UserName  string    `gorm:"column:user_name;type:varchar(100)"`
	Action    string    `gorm:"column:action;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:text"`
	Timestamp time.Time `gorm:"column:timestamp;autoCreateTime"`
}
