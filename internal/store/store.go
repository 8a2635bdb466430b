// Package store persists finished matches. The room layer treats it
// as optional: no database configured means no recorder, and a failed
// write never affects gameplay.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/helioplay/rooms-backend/internal/room"
)

// MatchRecord is one completed match.
type MatchRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	Code       string
	GameType   string `gorm:"index"`
	WinnerUID  string `gorm:"index"`
	WinReason  string
	DurationMs int64
	CreatedAt  time.Time
	Players    []MatchPlayer `gorm:"foreignKey:MatchRecordID"`
}

// MatchPlayer is one participant's final line in a match record.
type MatchPlayer struct {
	ID            uint   `gorm:"primaryKey"`
	MatchRecordID uint   `gorm:"index"`
	UID           string `gorm:"index"`
	Name          string
	Score         int
	Lives         int
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&MatchRecord{}, &MatchPlayer{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveMatch implements room.Recorder.
func (s *Store) SaveMatch(ctx context.Context, result room.MatchResult) error {
	rec := MatchRecord{
		SessionID:  result.SessionID,
		Code:       result.Code,
		GameType:   result.GameType,
		WinnerUID:  result.WinnerUID,
		WinReason:  result.WinReason,
		DurationMs: result.Duration.Milliseconds(),
	}
	for _, p := range result.Players {
		rec.Players = append(rec.Players, MatchPlayer{
			UID:   p.UID,
			Name:  p.Name,
			Score: p.Score,
			Lives: p.Lives,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save match %s: %w", result.SessionID, err)
	}
	return nil
}

// RecentMatches returns the latest finished matches for a player.
func (s *Store) RecentMatches(ctx context.Context, uid string, limit int) ([]MatchRecord, error) {
	var records []MatchRecord
	err := s.db.WithContext(ctx).
		Preload("Players").
		Joins("JOIN match_players ON match_players.match_record_id = match_records.id").
		Where("match_players.uid = ?", uid).
		Order("match_records.created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recent matches for %s: %w", uid, err)
	}
	return records, nil
}
