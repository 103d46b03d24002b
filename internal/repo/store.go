package repo

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shiftcal/ota-server/internal/model"
)

// ErrNotFound is returned by point lookups that matched nothing.
var ErrNotFound = errors.New("record not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the persistence collaborator for update rows and telemetry
// events. It is constructed and injected explicitly so tests can run
// against a throwaway database.
type Store interface {
	InsertUpdate(ctx context.Context, update *model.Update) error
	GetUpdate(ctx context.Context, id string) (*model.Update, error)
	// GetUpdatesByIDs resolves several updates in one query; absent ids
	// are simply missing from the result map.
	GetUpdatesByIDs(ctx context.Context, ids []string) (map[string]*model.Update, error)
	// LatestUpdate returns the newest update by creation time for the
	// exact (platform, runtimeVersion, channel) tuple.
	LatestUpdate(ctx context.Context, platform, runtimeVersion, channel string) (*model.Update, error)
	ListUpdates(ctx context.Context, limit int) ([]*model.Update, error)
	DeleteUpdate(ctx context.Context, id string) (bool, error)
	// AllManifests reads every persisted manifest, used for
	// reference-counting stored files during deletion.
	AllManifests(ctx context.Context) ([]*model.Manifest, error)

	InsertEvent(ctx context.Context, event *model.Event) error
	DeleteEventsByUpdateID(ctx context.Context, updateID string) (int64, error)

	Close() error
}
