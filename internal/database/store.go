package database

import (
	"fmt"

	"github.com/lanward/lanward/internal/registry"
	"gorm.io/gorm"
)

// Store adapts the servers table to the registry's load/save contract.
// Save replaces the whole table in one transaction; the registry is the
// source of truth and writes through on every mutation, so partial updates
// buy nothing here.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load() ([]registry.Record, error) {
	var rows []ServerRecord
	if err := s.db.Order("sort_order").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}

	records := make([]registry.Record, len(rows))
	for i, row := range rows {
		records[i] = registry.Record{
			ID:        row.ID,
			Name:      row.Name,
			Address:   row.Address,
			Port:      row.Port,
			AutoStart: row.AutoStart,
		}
	}
	return records, nil
}

func (s *Store) Save(records []registry.Record) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ServerRecord{}).Error; err != nil {
			return err
		}
		for i, rec := range records {
			row := ServerRecord{
				ID:        rec.ID,
				Name:      rec.Name,
				Address:   rec.Address,
				Port:      rec.Port,
				AutoStart: rec.AutoStart,
				SortOrder: i,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save servers: %w", err)
	}
	return nil
}

var _ registry.Store = (*Store)(nil)
