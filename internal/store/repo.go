package store

import (
	"context"
	"errors"
	"time"

	"github.com/jialangli/emotion-companion/internal/domain"
)

// ErrNotFound is returned when a user has no stored schedule.
var ErrNotFound = errors.New("schedule not found")

// Repo defines storage operations for notification preferences and chat links.
type Repo interface {
	Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error)
	Upsert(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error)
	ListActive(ctx context.Context) ([]domain.ScheduleConfig, error)
	TouchLastActive(ctx context.Context, userID string, at time.Time) error

	LinkChat(ctx context.Context, chatID int64, userID string) error
	UnlinkChat(ctx context.Context, chatID int64) error
	GetLink(ctx context.Context, chatID int64) (*TelegramLink, error)
	ListLinks(ctx context.Context) ([]TelegramLink, error)

	Close() error
}
