// Package seriesstore persists analyzed trend series in a queryable
// database so the API can serve them without rescanning the rows log.
package seriesstore

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for analyzed trend series.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ReplaceSeries swaps the full series set in one transaction.
	ReplaceSeries(ctx context.Context, series []Series, summary *Summary) error
	ListSeries(ctx context.Context) ([]Series, error)
	GetSeries(ctx context.Context, suite, scale, kase string) (*Series, error)
	GetSummary(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log  logrus.FieldLogger
	path string
	db   *gorm.DB
}

// NewStore creates a series Store backed by a SQLite database at path.
func NewStore(log logrus.FieldLogger, path string) Store {
	return &store{
		log:  log.WithField("component", "seriesstore"),
		path: path,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening series database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Series{},
		&Summary{},
	); err != nil {
		return fmt.Errorf("running series migrations: %w", err)
	}

	s.log.WithField("path", s.path).Info("Series database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) ReplaceSeries(ctx context.Context, series []Series, summary *Summary) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Series{}).Error; err != nil {
			return fmt.Errorf("clearing series: %w", err)
		}

		if len(series) > 0 {
			if err := tx.Create(&series).Error; err != nil {
				return fmt.Errorf("inserting series: %w", err)
			}
		}

		if err := tx.Where("1 = 1").Delete(&Summary{}).Error; err != nil {
			return fmt.Errorf("clearing summary: %w", err)
		}

		if err := tx.Create(summary).Error; err != nil {
			return fmt.Errorf("inserting summary: %w", err)
		}

		return nil
	})
}

func (s *store) ListSeries(ctx context.Context) ([]Series, error) {
	var series []Series

	if err := s.db.WithContext(ctx).
		Order("suite, scale, test_case").
		Find(&series).Error; err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}

	return series, nil
}

func (s *store) GetSeries(ctx context.Context, suite, scale, kase string) (*Series, error) {
	var series Series

	err := s.db.WithContext(ctx).
		Where("suite = ? AND scale = ? AND test_case = ?", suite, scale, kase).
		First(&series).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("getting series: %w", err)
	}

	return &series, nil
}

func (s *store) GetSummary(ctx context.Context) (*Summary, error) {
	var summary Summary

	err := s.db.WithContext(ctx).First(&summary).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("getting summary: %w", err)
	}

	return &summary, nil
}
