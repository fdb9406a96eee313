package database

import "time"

// ServerRecord is the persisted form of a configured server. Status and
// ping metadata are runtime state and are never written here.
type ServerRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Address   string    `gorm:"not null" json:"address"`
	Port      string    `gorm:"not null" json:"port"`
	AutoStart bool      `gorm:"not null;default:true" json:"auto_start"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
