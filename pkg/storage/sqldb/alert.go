package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertengine/internal/alert"

	"gorm.io/gorm"
)

// AlertStore persists alerts and their triggers.
type AlertStore struct {
	db *gorm.DB
}

func NewAlertStore(c *Client) *AlertStore {
	return &AlertStore{db: c.DB}
}

func (s *AlertStore) ListAlerts(ctx context.Context) ([]alert.Alert, error) {
	var records []AlertRecord
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]alert.Alert, len(records))
	for i, r := range records {
		out[i] = r.alert()
	}
	return out, nil
}

func (s *AlertStore) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	var rec AlertRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return alert.Alert{}, fmt.Errorf("%w: %s", alert.ErrNotFound, id)
	}
	if err != nil {
		return alert.Alert{}, fmt.Errorf("get alert %s: %w", id, err)
	}
	return rec.alert(), nil
}

func (s *AlertStore) CreateAlert(ctx context.Context, a alert.Alert) error {
	rec := toAlertRecord(a)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *AlertStore) UpdateAlert(ctx context.Context, a alert.Alert) error {
	rec := toAlertRecord(a)
	tx := s.db.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", a.ID).Updates(map[string]any{
		"instrument":   rec.Instrument,
		"bar_interval": rec.Interval,
		"source":       rec.Source,
		"condition":    rec.Condition,
		"threshold":    rec.Threshold,
		"enabled":      rec.Enabled,
		"cooldown_ms":  rec.CooldownMS,
		"updated_at":   rec.UpdatedAt,
	})
	if tx.Error != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", alert.ErrNotFound, a.ID)
	}
	return nil
}

// DeleteAlert removes the alert and its trigger history in one transaction.
func (s *AlertStore) DeleteAlert(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("alert_id = ?", id).Delete(&TriggerRecord{}).Error; err != nil {
			return fmt.Errorf("delete triggers of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&AlertRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete alert %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", alert.ErrNotFound, id)
		}
		return nil
	})
}

func (s *AlertStore) AppendTriggers(ctx context.Context, triggers []alert.Trigger) ([]alert.Trigger, error) {
	if len(triggers) == 0 {
		return nil, nil
	}
	records := make([]TriggerRecord, len(triggers))
	for i, t := range triggers {
		records[i] = toTriggerRecord(t)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&records, upsertBatchSize).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append %d triggers: %w", len(triggers), err)
	}

	out := make([]alert.Trigger, len(records))
	for i, r := range records {
		out[i] = r.trigger()
	}
	return out, nil
}

func (s *AlertStore) ListTriggers(ctx context.Context, alertID string) ([]alert.Trigger, error) {
	q := s.db.WithContext(ctx)
	if alertID != "" {
		q = q.Where("alert_id = ?", alertID)
	}
	var records []TriggerRecord
	if err := q.Order("fired_at asc, id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	out := make([]alert.Trigger, len(records))
	for i, r := range records {
		out[i] = r.trigger()
	}
	return out, nil
}

// PruneTriggers deletes triggers fired before the cutoff.
func (s *AlertStore) PruneTriggers(ctx context.Context, before time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).Where("fired_at < ?", before.UTC()).Delete(&TriggerRecord{})
	return tx.RowsAffected, tx.Error
}

var _ alert.Store = (*AlertStore)(nil)
