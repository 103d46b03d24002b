package logic

import (
	"context"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/patcher"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/storage"
)

var updateIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// DeliveryDecision is the terminal result of the patch decision chain.
// Only OutcomeServed carries a usable patch; every other outcome means
// the caller serves the full asset and reports the outcome as the
// fallback reason.
type DeliveryDecision struct {
	Outcome           DeliveryOutcome
	PatchPath         string
	PatchBytes        int64
	FullBytes         int64
	SavedBytes        int64
	BaseUpdateID      string
	RequestedUpdateID string
}

type DeliveryLogic struct {
	logger *zap.Logger
	store  repo.Store
	disk   *storage.Storage
	differ *patcher.Runner
	cg     *cache.ResolverCacheGroup
}

func NewDeliveryLogic(
	logger *zap.Logger,
	store repo.Store,
	disk *storage.Storage,
	differ *patcher.Runner,
	cg *cache.ResolverCacheGroup,
) *DeliveryLogic {
	return &DeliveryLogic{
		logger: logger,
		store:  store,
		disk:   disk,
		differ: differ,
		cg:     cg,
	}
}

// Decide walks the patch decision chain for one asset request. It never
// returns an error: every failure mode folds into an outcome and the
// caller degrades to full-asset delivery.
func (l *DeliveryLogic) Decide(ctx context.Context, param model.DeliveryParam) DeliveryDecision {
	decision := DeliveryDecision{}

	if protocol.NegotiateIM(param.AcceptIM, protocol.IMBsdiff) == "" {
		decision.Outcome = OutcomeNotRequested
		return decision
	}

	baseID := protocol.UnquoteUpdateID(param.CurrentUpdateID)
	requestedID := protocol.UnquoteUpdateID(param.RequestedUpdateID)
	if !updateIDPattern.MatchString(baseID) || !updateIDPattern.MatchString(requestedID) {
		decision.Outcome = OutcomeMissingUpdateHeaders
		return decision
	}
	decision.BaseUpdateID = baseID
	decision.RequestedUpdateID = requestedID
	if baseID == requestedID {
		decision.Outcome = OutcomeSameUpdate
		return decision
	}

	updates, err := l.lookupUpdates(ctx, baseID, requestedID)
	if err != nil {
		l.logger.Error("patch decision lookup failed", zap.Error(err))
		decision.Outcome = OutcomeUpdatesNotFound
		return decision
	}
	base, baseOK := updates[baseID]
	requested, requestedOK := updates[requestedID]
	if !baseOK || !requestedOK {
		decision.Outcome = OutcomeUpdatesNotFound
		return decision
	}

	if base.Platform != requested.Platform || base.RuntimeVersion != requested.RuntimeVersion {
		decision.Outcome = OutcomeIncompatibleUpdates
		return decision
	}

	baseFile := launchAssetFileName(base)
	if baseFile == "" {
		decision.Outcome = OutcomeBaseLaunchAssetMissing
		return decision
	}
	requestedFile := launchAssetFileName(requested)
	if requestedFile == "" {
		decision.Outcome = OutcomeRequestedAssetMissing
		return decision
	}

	if param.FileName != requestedFile {
		decision.Outcome = OutcomeNotLaunchAssetRequest
		return decision
	}

	baseExists, err := l.disk.AssetExists(baseFile)
	if err != nil || !baseExists {
		decision.Outcome = OutcomeBaseAssetMissing
		return decision
	}
	fullBytes, err := l.disk.StatAsset(requestedFile)
	if err != nil {
		decision.Outcome = OutcomeRequestedAssetMissing
		return decision
	}
	decision.FullBytes = fullBytes

	patchBytes, err := l.disk.StatPatch(baseID, requestedID)
	if err != nil {
		if !os.IsNotExist(err) {
			decision.Outcome = OutcomePatchReadFailed
			return decision
		}
		patchBytes, decision.Outcome = l.generatePatch(ctx, baseID, requestedID, baseFile, requestedFile)
		if decision.Outcome != OutcomeServed {
			return decision
		}
	}
	decision.PatchBytes = patchBytes

	if patchBytes >= fullBytes {
		decision.Outcome = OutcomePatchNotSmaller
		return decision
	}

	decision.Outcome = OutcomeServed
	decision.PatchPath = l.disk.PatchPath(baseID, requestedID)
	decision.SavedBytes = fullBytes - patchBytes
	return decision
}

// lookupUpdates resolves update rows through the by-id cache, batching
// the misses into one query. Rows are immutable after publish and the
// cache group is evicted on delete, so positive entries can live long;
// misses are not cached to keep client-supplied ids from filling it.
func (l *DeliveryLogic) lookupUpdates(ctx context.Context, ids ...string) (map[string]*model.Update, error) {
	found := make(map[string]*model.Update, len(ids))
	misses := make([]string, 0, len(ids))
	for _, id := range ids {
		if update, ok := l.cg.UpdateByIDCache.Get(id); ok && update != nil {
			found[id] = update
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return found, nil
	}

	fetched, err := l.store.GetUpdatesByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, update := range fetched {
		found[id] = update
		l.cg.UpdateByIDCache.Set(id, update)
	}
	return found, nil
}

// generatePatch runs the diff tool into a scratch path and commits the
// result into the patch cache. Concurrent generations for the same pair
// are tolerated; the last rename wins.
func (l *DeliveryLogic) generatePatch(ctx context.Context, baseID, requestedID, baseFile, requestedFile string) (int64, DeliveryOutcome) {
	basePath, err := l.disk.AssetPath(baseFile)
	if err != nil {
		return 0, OutcomeBaseAssetMissing
	}
	requestedPath, err := l.disk.AssetPath(requestedFile)
	if err != nil {
		return 0, OutcomeRequestedAssetMissing
	}

	tempPath := l.disk.TempPatchPath(baseID, requestedID, ksuid.New().String())
	if err := l.differ.Generate(ctx, basePath, requestedPath, tempPath); err != nil {
		_ = os.Remove(tempPath)
		switch {
		case errors.Is(err, patcher.ErrNotInstalled):
			return 0, OutcomeBsdiffNotInstalled
		case errors.Is(err, patcher.ErrTimeout):
			return 0, OutcomeBsdiffTimeout
		default:
			l.logger.Warn("patch generation failed",
				zap.String("base_update_id", baseID),
				zap.String("requested_update_id", requestedID),
				zap.Error(err),
			)
			return 0, OutcomeBsdiffFailed
		}
	}

	if err := l.disk.CommitPatch(tempPath, baseID, requestedID); err != nil {
		_ = os.Remove(tempPath)
		return 0, OutcomePatchReadFailed
	}
	patchBytes, err := l.disk.StatPatch(baseID, requestedID)
	if err != nil {
		return 0, OutcomePatchReadFailed
	}
	return patchBytes, OutcomeServed
}

func launchAssetFileName(update *model.Update) string {
	if update.Manifest == nil {
		return ""
	}
	return storage.ExtractFileName(update.Manifest.LaunchAsset.URL)
}
