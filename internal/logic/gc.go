package logic

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/storage"
)

type GCLogic struct {
	logger *zap.Logger
	store  repo.Store
	disk   *storage.Storage
	cg     *cache.ResolverCacheGroup
}

func NewGCLogic(
	logger *zap.Logger,
	store repo.Store,
	disk *storage.Storage,
	cg *cache.ResolverCacheGroup,
) *GCLogic {
	return &GCLogic{
		logger: logger,
		store:  store,
		disk:   disk,
		cg:     cg,
	}
}

// DeletePublishedUpdate removes an update and garbage-collects stored
// files no remaining manifest references. Once the row deletion has
// succeeded the operation cannot fail: cleanup problems are accumulated
// as warnings in the result.
func (l *GCLogic) DeletePublishedUpdate(ctx context.Context, updateID string) (*model.DeleteResult, error) {
	updateID = strings.TrimSpace(updateID)
	if updateID == "" {
		return nil, errors.New("update id is required")
	}

	result := &model.DeleteResult{UpdateID: updateID}

	update, err := l.store.GetUpdate(ctx, updateID)
	if repo.IsNotFound(err) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	candidates := manifestFileNames(update.Manifest)

	deleted, err := l.store.DeleteUpdate(ctx, updateID)
	if err != nil {
		return nil, err
	}
	result.Deleted = deleted

	removedEvents, err := l.store.DeleteEventsByUpdateID(ctx, updateID)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("failed to delete events for %s: %v", updateID, err))
	}
	result.EventsDeleted = int(removedEvents)

	stillReferenced, err := l.referencedFileNames(ctx)
	if err != nil {
		// Without the reference set it is unsafe to delete anything.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("skipping asset cleanup, reference scan failed: %v", err))
		candidates = nil
	}

	for name := range candidates {
		if stillReferenced[name] {
			continue
		}
		removed, err := l.disk.DeleteAsset(name)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to delete asset %s: %v", name, err))
			continue
		}
		if removed {
			result.AssetsDeleted++
		}
	}

	patchesDeleted, patchWarnings := l.disk.DeletePatchesFor(updateID)
	result.PatchesDeleted = patchesDeleted
	result.Warnings = append(result.Warnings, patchWarnings...)

	l.cg.EvictAll()

	l.logger.Info("deleted update",
		zap.String("update_id", updateID),
		zap.Int("assets_deleted", result.AssetsDeleted),
		zap.Int("patches_deleted", result.PatchesDeleted),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// referencedFileNames re-scans every remaining manifest after the row
// deletion, so a file shared with a surviving update is never removed.
func (l *GCLogic) referencedFileNames(ctx context.Context) (map[string]bool, error) {
	manifests, err := l.store.AllManifests(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool)
	for _, manifest := range manifests {
		for name := range manifestFileNames(manifest) {
			referenced[name] = true
		}
	}
	return referenced, nil
}

func manifestFileNames(manifest *model.Manifest) map[string]bool {
	names := make(map[string]bool)
	if manifest == nil {
		return names
	}
	if name := storage.ExtractFileName(manifest.LaunchAsset.URL); name != "" {
		names[name] = true
	}
	for _, asset := range manifest.Assets {
		if name := storage.ExtractFileName(asset.URL); name != "" {
			names[name] = true
		}
	}
	return names
}
