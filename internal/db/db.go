package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the history database at path and migrates
// its schema.
func Open(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// sqlite only supports one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := conn.AutoMigrate(&Run{}, &TaskHistory{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return conn, nil
}

func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func InsertRun(conn *gorm.DB, r *Run) error {
	return conn.Create(r).Error
}

// FinishRun stores the final counters of a run.
func FinishRun(conn *gorm.DB, r *Run) error {
	return conn.Model(&Run{}).Where("id = ?", r.ID).Updates(map[string]any{
		"status":          r.Status,
		"processed":       r.Processed,
		"errors":          r.Errors,
		"skipped":         r.Skipped,
		"bytes_reclaimed": r.BytesReclaimed,
		"elapsed_ms":      r.ElapsedMs,
		"finished_at":     r.FinishedAt,
	}).Error
}

func InsertTaskHistory(conn *gorm.DB, h *TaskHistory) error {
	return conn.Create(h).Error
}

// ErrNotFound is returned by the lookup helpers.
var ErrNotFound = errors.New("not found")

func GetRun(conn *gorm.DB, id string) (*Run, error) {
	var r Run
	err := conn.First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first.
func ListRuns(conn *gorm.DB, limit, offset int) ([]Run, int64, error) {
	var rows []Run
	var count int64
	if err := conn.Model(&Run{}).Count(&count).Error; err != nil {
		return nil, 0, err
	}
	err := conn.Order("started_at desc").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, count, err
}

// ListTasks returns the items of one run in processing order. status
// filters when non-empty.
func ListTasks(conn *gorm.DB, runID string, status Status, limit int) ([]TaskHistory, error) {
	var rows []TaskHistory
	q := conn.Where("run_id = ?", runID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id asc").Limit(limit).Find(&rows).Error
	return rows, err
}

func GetStats(conn *gorm.DB) (Stats, error) {
	var s Stats
	if err := conn.Model(&Run{}).Count(&s.Runs).Error; err != nil {
		return s, err
	}
	if err := conn.Model(&TaskHistory{}).Where("status = ?", StatusSuccess).Count(&s.Converted).Error; err != nil {
		return s, err
	}
	if err := conn.Model(&TaskHistory{}).Where("status = ?", StatusFailed).Count(&s.Failed).Error; err != nil {
		return s, err
	}
	err := conn.Model(&TaskHistory{}).Where("status = ?", StatusSuccess).
		Select("COALESCE(SUM(bytes_reclaimed), 0)").Scan(&s.BytesReclaimed).Error
	return s, err
}
