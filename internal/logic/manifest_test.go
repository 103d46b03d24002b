package logic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/model"
)

func TestResolveLatestUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	logic := NewManifestLogic(zap.NewNop(), env.store, env.cg)

	_, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:       "windows",
		RuntimeVersion: "1.0.0",
	})
	require.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform: model.PlatformIOS,
	})
	require.ErrorIs(t, err, ErrMissingRuntimeVersion)
}

func TestResolveLatestUpdateNoMatch(t *testing.T) {
	env := newTestEnv(t)
	logic := NewManifestLogic(zap.NewNop(), env.store, env.cg)

	update, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:       model.PlatformIOS,
		RuntimeVersion: "1.0.0",
	})
	require.NoError(t, err)
	require.Nil(t, update)
}

func TestResolveLatestUpdatePicksNewest(t *testing.T) {
	env := newTestEnv(t)
	logic := NewManifestLogic(zap.NewNop(), env.store, env.cg)

	base := time.Now().UTC().Truncate(time.Second)
	env.insertUpdate(t, model.PlatformIOS, "1.0.0", []byte("bundle-old"), base.Add(-time.Hour))
	newest := env.insertUpdate(t, model.PlatformIOS, "1.0.0", []byte("bundle-new"), base)

	resolved, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:       model.PlatformIOS,
		RuntimeVersion: "1.0.0",
		Origin:         "https://updates.example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.Equal(t, newest.ID, resolved.ID)
	require.Contains(t, resolved.Manifest.LaunchAsset.URL, "https://updates.example.com/api/assets?file=")
}

func TestResolveLatestUpdateClientAlreadyCurrent(t *testing.T) {
	env := newTestEnv(t)
	logic := NewManifestLogic(zap.NewNop(), env.store, env.cg)

	newest := env.insertUpdate(t, model.PlatformAndroid, "2.0.0", []byte("bundle"), time.Now().UTC())

	// Quoted header value normalizes to the bare id.
	resolved, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:        model.PlatformAndroid,
		RuntimeVersion:  "2.0.0",
		CurrentUpdateID: `"` + newest.ID + `"`,
	})
	require.NoError(t, err)
	require.Nil(t, resolved)
}

func TestResolveLatestUpdateDoesNotMutateStoredManifest(t *testing.T) {
	env := newTestEnv(t)
	logic := NewManifestLogic(zap.NewNop(), env.store, env.cg)

	env.insertUpdate(t, model.PlatformIOS, "1.0.0", []byte("bundle"), time.Now().UTC())

	first, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:       model.PlatformIOS,
		RuntimeVersion: "1.0.0",
		Origin:         "https://a.example.com",
	})
	require.NoError(t, err)

	second, err := logic.ResolveLatestUpdate(context.Background(), model.ResolveParam{
		Platform:       model.PlatformIOS,
		RuntimeVersion: "1.0.0",
		Origin:         "https://b.example.com",
	})
	require.NoError(t, err)

	require.Contains(t, first.Manifest.LaunchAsset.URL, "https://a.example.com")
	require.Contains(t, second.Manifest.LaunchAsset.URL, "https://b.example.com")
}

func TestAbsolutizeURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		origin string
		want   string
	}{
		{
			name:   "relative joined to origin",
			raw:    "/api/assets?file=abc.js",
			origin: "https://updates.example.com",
			want:   "https://updates.example.com/api/assets?file=abc.js",
		},
		{
			name:   "absolute passed through",
			raw:    "https://cdn.example.com/abc.js",
			origin: "https://updates.example.com",
			want:   "https://cdn.example.com/abc.js",
		},
		{
			name:   "empty origin leaves url alone",
			raw:    "/api/assets?file=abc.js",
			origin: "",
			want:   "/api/assets?file=abc.js",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, absolutizeURL(tt.raw, tt.origin))
		})
	}
}
