package repository

import "tg-assistant/internal/modules/summary/domain"

// Repository persists rendered digest artifacts.
type Repository interface {
	Save(summary *domain.FullSummary) (string, error)
	Recent(limit int) ([]domain.StoredSummary, error)
	Cleanup(keepDays int) (int, error)
}
