package catalog

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PlayHistory is one successful track load.
type PlayHistory struct {
	ID       uint      `gorm:"primaryKey"`
	TrackID  string    `gorm:"size:64;index"`
	Title    string    `gorm:"size:512"`
	PlayedAt time.Time `gorm:"index"`
}

func (PlayHistory) TableName() string {
	return "play_history"
}

// HistoryRepository records and queries play history.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository migrates the history table and returns the repository.
func NewHistoryRepository(gdb *gorm.DB) (*HistoryRepository, error) {
	if err := gdb.AutoMigrate(&PlayHistory{}); err != nil {
		return nil, fmt.Errorf("failed to migrate play_history: %w", err)
	}
	return &HistoryRepository{db: gdb}, nil
}

// Record appends one history row.
func (r *HistoryRepository) Record(trackID, title string) error {
	entry := PlayHistory{TrackID: trackID, Title: title, PlayedAt: time.Now()}
	if err := r.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record play history: %w", err)
	}
	return nil
}

// Recent returns the latest plays, newest first.
func (r *HistoryRepository) Recent(limit int) ([]PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []PlayHistory
	if err := r.db.Order("played_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	return rows, nil
}
