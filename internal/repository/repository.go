package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

var ErrNotFound = errors.New("not found")

type Filter struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	Group    *models.ConstellationGroup
	Level    *models.RiskLevel
	MinLevel *models.RiskLevel // >= this level (e.g., AMBER includes AMBER, RED and UNKNOWN)
	Source   *models.Source
}

type StatusRepository interface {
	Add(ctx context.Context, s *models.RiskStatus) error
	GetByID(ctx context.Context, id string) (*models.RiskStatus, error)
	Latest(ctx context.Context, group models.ConstellationGroup) (*models.RiskStatus, error)
	ListStatuses(ctx context.Context, opts Filter) ([]models.RiskStatus, error)
}

type SnapshotRepository interface {
	AddSnapshot(ctx context.Context, s *models.SpaceWeatherSnapshot) error
	ListSnapshots(ctx context.Context, opts Filter) ([]models.SpaceWeatherSnapshot, error)
}
