package logic

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/repo"
)

var (
	ErrUnsupportedPlatform   = errors.New("unsupported platform")
	ErrMissingRuntimeVersion = errors.New("missing runtime version")
)

type ManifestLogic struct {
	logger *zap.Logger
	store  repo.Store
	cg     *cache.ResolverCacheGroup
}

func NewManifestLogic(
	logger *zap.Logger,
	store repo.Store,
	cg *cache.ResolverCacheGroup,
) *ManifestLogic {
	return &ManifestLogic{
		logger: logger,
		store:  store,
		cg:     cg,
	}
}

// ResolveLatestUpdate returns the newest update for the client's
// (platform, runtimeVersion, channel) tuple with asset URLs made
// absolute against origin. A nil update with nil error means the
// client is already current, or nothing is published for the tuple.
func (l *ManifestLogic) ResolveLatestUpdate(ctx context.Context, param model.ResolveParam) (*model.Update, error) {
	if !model.SupportedPlatform(param.Platform) {
		return nil, ErrUnsupportedPlatform
	}
	if param.RuntimeVersion == "" {
		return nil, ErrMissingRuntimeVersion
	}

	channel := param.Channel
	if channel == "" {
		channel = model.DefaultChannel
	}

	key := l.cg.GetCacheKey(param.Platform, param.RuntimeVersion, channel)
	val, err := l.cg.LatestUpdateCache.ComputeIfAbsent(key, func() (*model.Update, error) {
		update, err := l.store.LatestUpdate(ctx, param.Platform, param.RuntimeVersion, channel)
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return update, err
	})
	if err != nil {
		return nil, err
	}

	update := *val
	if update == nil {
		return nil, nil
	}
	if update.ID == protocol.UnquoteUpdateID(param.CurrentUpdateID) {
		return nil, nil
	}

	resolved := *update
	resolved.Manifest = absolutizeManifest(update.Manifest, param.Origin)
	return &resolved, nil
}

// absolutizeManifest deep-copies the manifest, joining each relative
// asset URL to origin. Already-absolute URLs pass through unchanged.
func absolutizeManifest(manifest *model.Manifest, origin string) *model.Manifest {
	if manifest == nil {
		return nil
	}

	clone := *manifest
	clone.LaunchAsset.URL = absolutizeURL(clone.LaunchAsset.URL, origin)
	clone.Assets = make([]model.ManifestAsset, len(manifest.Assets))
	for i, asset := range manifest.Assets {
		asset.URL = absolutizeURL(asset.URL, origin)
		clone.Assets[i] = asset
	}
	return &clone
}

func absolutizeURL(raw, origin string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" {
		return raw
	}
	return base.ResolveReference(ref).String()
}
