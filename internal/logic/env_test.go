package logic

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/config"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/storage"
)

type testEnv struct {
	store *repo.SQLStore
	disk  *storage.Storage
	cg    *cache.ResolverCacheGroup
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repo.Open(config.DatabaseConfig{
		Driver: repo.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "updates.db"),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db, repo.DriverSQLite))

	store := repo.NewSQLStore(db)
	t.Cleanup(func() {
		_ = store.Close()
	})

	disk, err := storage.New(t.TempDir())
	require.NoError(t, err)

	return &testEnv{
		store: store,
		disk:  disk,
		cg:    cache.NewResolverCacheGroup(),
	}
}

// insertUpdate stores the launch bundle bytes and persists an update row
// referencing it, bypassing archive ingestion.
func (e *testEnv) insertUpdate(t *testing.T, platform, runtimeVersion string, bundle []byte, createdAt time.Time) *model.Update {
	t.Helper()

	stored, err := e.disk.StoreAsset(bundle, "js")
	require.NoError(t, err)

	id := uuid.NewString()
	update := &model.Update{
		ID:             id,
		Platform:       platform,
		Channel:        model.DefaultChannel,
		RuntimeVersion: runtimeVersion,
		AssetsCount:    1,
		CreatedAt:      createdAt,
		Manifest: &model.Manifest{
			ID:             id,
			CreatedAt:      createdAt.UTC().Format(time.RFC3339),
			RuntimeVersion: runtimeVersion,
			LaunchAsset: model.ManifestAsset{
				Key:         stored.Hash,
				ContentType: "application/javascript",
				URL:         stored.RelativeURL,
				Hash:        stored.Hash,
			},
			Metadata: model.ManifestMetadata{Channel: model.DefaultChannel},
			Extra:    model.ManifestExtra{Channel: model.DefaultChannel},
		},
	}
	require.NoError(t, e.store.InsertUpdate(context.Background(), update))
	return update
}

// buildArchive assembles an in-memory zip with the given files.
func buildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
