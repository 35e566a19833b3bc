package sqldb

import (
	"context"
	"fmt"

	"alertengine/internal/indicator"

	"gorm.io/gorm/clause"
)

// SaveDefinition stores def under its derived name, replacing a previous row.
func (s *AlertStore) SaveDefinition(ctx context.Context, def indicator.Definition) error {
	rec, err := toDefinitionRecord(def)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"base", "params", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save indicator %s: %w", rec.Name, err)
	}
	return nil
}

// ListDefinitions returns every stored definition ordered by name. A row that cannot
// be decoded fails the whole read.
func (s *AlertStore) ListDefinitions(ctx context.Context) ([]indicator.Definition, error) {
	var records []IndicatorDefinitionRecord
	if err := s.db.WithContext(ctx).Order("name asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	out := make([]indicator.Definition, 0, len(records))
	for _, r := range records {
		def, err := r.definition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}
