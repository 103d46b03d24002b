package logic

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/pkg/errs"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/storage"
)

const (
	metadataFileName = "metadata.json"

	launchBundleExtension   = "js"
	launchBundleContentType = "application/javascript"

	defaultListLimit = 100
)

type PublishLogic struct {
	logger *zap.Logger
	store  repo.Store
	disk   *storage.Storage
	cg     *cache.ResolverCacheGroup
}

func NewPublishLogic(
	logger *zap.Logger,
	store repo.Store,
	disk *storage.Storage,
	cg *cache.ResolverCacheGroup,
) *PublishLogic {
	return &PublishLogic{
		logger: logger,
		store:  store,
		disk:   disk,
		cg:     cg,
	}
}

// archiveMetadata mirrors the metadata.json descriptor at the root of a
// published bundle archive.
type archiveMetadata struct {
	Version      int                         `json:"version"`
	Bundler      string                      `json:"bundler"`
	FileMetadata map[string]platformMetadata `json:"fileMetadata"`
}

type platformMetadata struct {
	Bundle string       `json:"bundle"`
	Assets []assetEntry `json:"assets"`
}

// assetEntry accepts either a bare path string or an object carrying
// per-asset overrides.
type assetEntry struct {
	Path          string `json:"path"`
	Ext           string `json:"ext"`
	FileExtension string `json:"fileExtension"`
	ContentType   string `json:"contentType"`
	Key           string `json:"key"`
	Hash          string `json:"hash"`
}

func (a *assetEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return sonic.Unmarshal(data, &a.Path)
	}
	type plain assetEntry
	return sonic.Unmarshal(data, (*plain)(a))
}

func (a *assetEntry) extension() string {
	if a.Ext != "" {
		return a.Ext
	}
	if a.FileExtension != "" {
		return a.FileExtension
	}
	return strings.TrimPrefix(filepath.Ext(a.Path), ".")
}

// PublishUpdateArchive ingests a zip archive and persists one update per
// platform section found in its metadata descriptor. Each platform is
// independently atomic: a missing referenced file aborts that platform
// before anything is persisted for it, but platforms already published
// in the same call are not rolled back.
func (l *PublishLogic) PublishUpdateArchive(ctx context.Context, param model.PublishParam) ([]*model.Update, error) {
	reader, err := zip.NewReader(bytes.NewReader(param.Archive), int64(len(param.Archive)))
	if err != nil {
		return nil, errors.Wrap(err, "archive is not a valid zip")
	}

	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[strings.TrimPrefix(f.Name, "./")] = f
	}

	metaFile, ok := files[metadataFileName]
	if !ok {
		return nil, errors.Errorf("archive is missing %s", metadataFileName)
	}
	metaBytes, err := readArchiveFile(metaFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", metadataFileName)
	}

	var meta archiveMetadata
	if err := sonic.Unmarshal(metaBytes, &meta); err != nil {
		return nil, errors.Wrapf(err, "malformed %s", metadataFileName)
	}
	if len(meta.FileMetadata) == 0 {
		return nil, errors.Errorf("%s has no fileMetadata platform sections", metadataFileName)
	}

	channel := param.Channel
	if channel == "" {
		channel = model.DefaultChannel
	}

	platforms := make([]string, 0, len(meta.FileMetadata))
	for platform := range meta.FileMetadata {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	published := make([]*model.Update, 0, len(platforms))
	for _, rawPlatform := range platforms {
		platform := strings.ToLower(strings.TrimSpace(rawPlatform))
		if !model.SupportedPlatform(platform) {
			l.logger.Warn("skipping unsupported platform section",
				zap.String("platform", rawPlatform),
			)
			continue
		}

		update, err := l.publishPlatform(ctx, files, platform, meta.FileMetadata[rawPlatform], channel, param)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to publish %s", platform)
		}

		l.cg.LatestUpdateCache.Delete(l.cg.GetCacheKey(platform, param.RuntimeVersion, channel))
		published = append(published, update)
	}

	if len(published) == 0 {
		return nil, errors.New("archive contains no publishable platform sections")
	}
	return published, nil
}

func (l *PublishLogic) publishPlatform(
	ctx context.Context,
	files map[string]*zip.File,
	platform string,
	section platformMetadata,
	channel string,
	param model.PublishParam,
) (*model.Update, error) {
	if section.Bundle == "" {
		return nil, errors.New("platform section names no launch bundle")
	}

	bundleBytes, err := readNamedArchiveFile(files, section.Bundle)
	if err != nil {
		return nil, err
	}
	storedBundle, err := l.disk.StoreAsset(bundleBytes, launchBundleExtension)
	if err != nil {
		return nil, err
	}

	launchAsset := model.ManifestAsset{
		Key:         storedBundle.Hash,
		ContentType: launchBundleContentType,
		URL:         storedBundle.RelativeURL,
		Hash:        storedBundle.Hash,
	}

	assets := make([]model.ManifestAsset, len(section.Assets))
	group, _ := errgroup.WithContext(ctx)
	for i, entry := range section.Assets {
		i, entry := i, entry
		group.Go(func() error {
			asset, err := l.storeDeclaredAsset(files, entry)
			if err != nil {
				return err
			}
			assets[i] = asset
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	update := &model.Update{
		ID:             uuid.NewString(),
		Platform:       platform,
		Channel:        channel,
		RuntimeVersion: param.RuntimeVersion,
		AppVersion:     optional(param.AppVersion),
		Message:        optional(param.Message),
		AssetsCount:    len(assets) + 1,
		CreatedAt:      now,
	}
	update.Manifest = &model.Manifest{
		ID:             update.ID,
		CreatedAt:      now.Format(time.RFC3339),
		RuntimeVersion: param.RuntimeVersion,
		LaunchAsset:    launchAsset,
		Assets:         assets,
		Metadata: model.ManifestMetadata{
			Message:    update.Message,
			AppVersion: update.AppVersion,
			Channel:    channel,
		},
		Extra: model.ManifestExtra{
			AppVersion: update.AppVersion,
			Channel:    channel,
		},
	}

	if err := l.store.InsertUpdate(ctx, update); err != nil {
		return nil, err
	}

	l.logger.Info("published update",
		zap.String("update_id", update.ID),
		zap.String("platform", platform),
		zap.String("channel", channel),
		zap.String("runtime_version", param.RuntimeVersion),
		zap.Int("assets", update.AssetsCount),
	)
	return update, nil
}

func (l *PublishLogic) storeDeclaredAsset(files map[string]*zip.File, entry assetEntry) (model.ManifestAsset, error) {
	if entry.Path == "" {
		return model.ManifestAsset{}, errors.New("asset entry names no path")
	}

	content, err := readNamedArchiveFile(files, entry.Path)
	if err != nil {
		return model.ManifestAsset{}, err
	}
	stored, err := l.disk.StoreAsset(content, entry.extension())
	if err != nil {
		return model.ManifestAsset{}, err
	}

	key := entry.Key
	if key == "" {
		key = entry.Hash
	}
	if key == "" {
		key = stored.Hash
	}
	contentType := entry.ContentType
	if contentType == "" {
		contentType = protocol.ResolveContentType(stored.FileName)
	}

	return model.ManifestAsset{
		Key:           key,
		ContentType:   contentType,
		URL:           stored.RelativeURL,
		Hash:          stored.Hash,
		FileExtension: storage.NormalizeExtension(entry.extension()),
	}, nil
}

// ListUpdates returns the newest updates first.
func (l *PublishLogic) ListUpdates(ctx context.Context, limit int) ([]*model.Update, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return l.store.ListUpdates(ctx, limit)
}

func (l *PublishLogic) GetUpdate(ctx context.Context, id string) (*model.Update, error) {
	update, err := l.store.GetUpdate(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, errs.ErrUpdateNotFound
		}
		return nil, err
	}
	return update, nil
}

func readNamedArchiveFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[strings.TrimPrefix(name, "./")]
	if !ok {
		return nil, errors.Errorf("archive is missing referenced file %q", name)
	}
	return readArchiveFile(f)
}

func readArchiveFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", f.Name)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
