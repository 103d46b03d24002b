package logic

// DeliveryOutcome is the terminal state of the asset delivery decision
// chain. Exactly one outcome is produced per asset request; its String
// form appears verbatim in telemetry, metrics and the fallback header.
type DeliveryOutcome int

const (
	OutcomeNotRequested DeliveryOutcome = iota
	OutcomeMissingUpdateHeaders
	OutcomeSameUpdate
	OutcomeUpdatesNotFound
	OutcomeIncompatibleUpdates
	OutcomeNotLaunchAssetRequest
	OutcomeBaseLaunchAssetMissing
	OutcomeRequestedAssetMissing
	OutcomeBaseAssetMissing
	OutcomePatchReadFailed
	OutcomePatchNotSmaller
	OutcomeBsdiffNotInstalled
	OutcomeBsdiffTimeout
	OutcomeBsdiffFailed
	OutcomeServed
)

var outcomeNames = [...]string{
	OutcomeNotRequested:           "not_requested",
	OutcomeMissingUpdateHeaders:   "missing_update_headers",
	OutcomeSameUpdate:             "same_update",
	OutcomeUpdatesNotFound:        "updates_not_found",
	OutcomeIncompatibleUpdates:    "incompatible_updates",
	OutcomeNotLaunchAssetRequest:  "not_launch_asset_request",
	OutcomeBaseLaunchAssetMissing: "base_launch_asset_missing",
	OutcomeRequestedAssetMissing:  "requested_asset_missing",
	OutcomeBaseAssetMissing:       "base_asset_missing",
	OutcomePatchReadFailed:        "patch_read_failed",
	OutcomePatchNotSmaller:        "patch_not_smaller",
	OutcomeBsdiffNotInstalled:     "bsdiff_not_installed",
	OutcomeBsdiffTimeout:          "bsdiff_timeout",
	OutcomeBsdiffFailed:           "bsdiff_failed",
	OutcomeServed:                 "served",
}

func (o DeliveryOutcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}
