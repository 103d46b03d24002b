package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/shiftcal/ota-server/internal/model"
)

// SQLStore implements Store over sqlx.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type updateRow struct {
	ID             string    `db:"id"`
	Platform       string    `db:"platform"`
	Channel        string    `db:"channel"`
	RuntimeVersion string    `db:"runtime_version"`
	AppVersion     *string   `db:"app_version"`
	Message        *string   `db:"message"`
	Manifest       []byte    `db:"manifest"`
	AssetsCount    int       `db:"assets_count"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r *updateRow) toModel() (*model.Update, error) {
	update := &model.Update{
		ID:             r.ID,
		Platform:       r.Platform,
		Channel:        r.Channel,
		RuntimeVersion: r.RuntimeVersion,
		AppVersion:     r.AppVersion,
		Message:        r.Message,
		AssetsCount:    r.AssetsCount,
		CreatedAt:      r.CreatedAt,
	}

	manifest := new(model.Manifest)
	if err := sonic.Unmarshal(r.Manifest, manifest); err != nil {
		return nil, errors.Wrapf(err, "corrupt manifest for update %s", r.ID)
	}
	update.Manifest = manifest
	return update, nil
}

func (s *SQLStore) InsertUpdate(ctx context.Context, update *model.Update) error {
	manifestJSON, err := sonic.Marshal(update.Manifest)
	if err != nil {
		return errors.Wrap(err, "failed to serialize manifest")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO updates
			(id, platform, channel, runtime_version, app_version, message, manifest, assets_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		update.ID,
		update.Platform,
		update.Channel,
		update.RuntimeVersion,
		update.AppVersion,
		update.Message,
		manifestJSON,
		update.AssetsCount,
		update.CreatedAt,
	)
	return errors.Wrap(err, "failed to insert update")
}

func (s *SQLStore) GetUpdate(ctx context.Context, id string) (*model.Update, error) {
	var row updateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM updates WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get update")
	}
	return row.toModel()
}

func (s *SQLStore) GetUpdatesByIDs(ctx context.Context, ids []string) (map[string]*model.Update, error) {
	result := make(map[string]*model.Update, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM updates WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build batched lookup")
	}

	var rows []updateRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to batch-get updates")
	}

	for i := range rows {
		update, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result[update.ID] = update
	}
	return result, nil
}

func (s *SQLStore) LatestUpdate(ctx context.Context, platform, runtimeVersion, channel string) (*model.Update, error) {
	var row updateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM updates
		WHERE platform = ? AND runtime_version = ? AND channel = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		platform, runtimeVersion, channel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve latest update")
	}
	return row.toModel()
}

func (s *SQLStore) ListUpdates(ctx context.Context, limit int) ([]*model.Update, error) {
	var rows []updateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM updates
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list updates")
	}

	updates := make([]*model.Update, 0, len(rows))
	for i := range rows {
		update, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func (s *SQLStore) DeleteUpdate(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM updates WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read delete result")
	}
	return affected > 0, nil
}

func (s *SQLStore) AllManifests(ctx context.Context) ([]*model.Manifest, error) {
	var blobs [][]byte
	if err := s.db.SelectContext(ctx, &blobs, `SELECT manifest FROM updates`); err != nil {
		return nil, errors.Wrap(err, "failed to read manifests")
	}

	manifests := make([]*model.Manifest, 0, len(blobs))
	for _, blob := range blobs {
		manifest := new(model.Manifest)
		if err := sonic.Unmarshal(blob, manifest); err != nil {
			return nil, errors.Wrap(err, "corrupt manifest row")
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

func (s *SQLStore) InsertEvent(ctx context.Context, event *model.Event) error {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := sonic.Marshal(details)
	if err != nil {
		return errors.Wrap(err, "failed to serialize event details")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, event_type, platform, runtime_version, channel, app_version,
			 device_id, os_name, os_version, device_model, update_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.EventType,
		event.Platform,
		event.RuntimeVersion,
		event.Channel,
		event.AppVersion,
		event.DeviceID,
		event.OSName,
		event.OSVersion,
		event.DeviceModel,
		event.UpdateID,
		detailsJSON,
		event.CreatedAt,
	)
	return errors.Wrap(err, "failed to insert event")
}

func (s *SQLStore) DeleteEventsByUpdateID(ctx context.Context, updateID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE update_id = ?`, updateID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete events")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read event delete result")
	}
	return affected, nil
}
