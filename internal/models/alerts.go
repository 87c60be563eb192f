package models

import (
	"context"
	"time"

	"gorm.io/gorm"

	"Guardian/pkg/errors"
)

// 警报动作
const (
	ActionRaised   = "raised"
	ActionResolved = "resolved"
)

// AlertAction 警报生命周期的审计记录
type AlertAction struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	AlertID    string    `json:"alertId" gorm:"size:64;index"`
	Action     string    `json:"action" gorm:"size:32"`
	Source     string    `json:"source" gorm:"size:32"` // manual / voice / timer
	Recipients int       `json:"recipients"`
	Located    bool      `json:"located"`
	ActionTime time.Time `json:"actionTime"`
	CreatedAt  time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

type ActionLog struct {
	db *gorm.DB
}

func NewActionLog(db *gorm.DB) (*ActionLog, error) {
	if err := db.AutoMigrate(&AlertAction{}); err != nil {
		return nil, errors.Wrap(err, "migrate alert actions")
	}
	return &ActionLog{db: db}, nil
}

func (l *ActionLog) Record(ctx context.Context, a AlertAction) error {
	if a.ActionTime.IsZero() {
		a.ActionTime = time.Now().UTC()
	}
	a.ID = 0
	if err := l.db.WithContext(ctx).Create(&a).Error; err != nil {
		return errors.Wrap(err, "record alert action").WithContext("alert", a.AlertID)
	}
	return nil
}

// History lists the actions of one alert, oldest first.
func (l *ActionLog) History(ctx context.Context, alertID string) ([]AlertAction, error) {
	var out []AlertAction
	err := l.db.WithContext(ctx).Where("alert_id = ?", alertID).Order("action_time, id").Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list alert actions")
	}
	return out, nil
}
