package model

import "time"

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"

	DefaultChannel = "production"
)

// SupportedPlatform reports whether the value names a platform updates can be
// published for.
func SupportedPlatform(platform string) bool {
	return platform == PlatformIOS || platform == PlatformAndroid
}

type ManifestAsset struct {
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
	Hash          string `json:"hash"`
	FileExtension string `json:"fileExtension,omitempty"`
}

type ManifestMetadata struct {
	Message    *string `json:"message"`
	AppVersion *string `json:"appVersion"`
	Channel    string  `json:"channel"`
}

type ManifestExtra struct {
	AppVersion *string `json:"appVersion"`
	Channel    string  `json:"channel"`
}

// Manifest is produced once at publish time and frozen; only asset URLs are
// rewritten against the responding origin at serve time.
type Manifest struct {
	ID             string           `json:"id"`
	CreatedAt      string           `json:"createdAt"`
	RuntimeVersion string           `json:"runtimeVersion"`
	LaunchAsset    ManifestAsset    `json:"launchAsset"`
	Assets         []ManifestAsset  `json:"assets"`
	Metadata       ManifestMetadata `json:"metadata"`
	Extra          ManifestExtra    `json:"extra"`
}

type Update struct {
	ID             string    `db:"id" json:"id"`
	Platform       string    `db:"platform" json:"platform"`
	Channel        string    `db:"channel" json:"channel"`
	RuntimeVersion string    `db:"runtime_version" json:"runtimeVersion"`
	AppVersion     *string   `db:"app_version" json:"appVersion"`
	Message        *string   `db:"message" json:"message"`
	Manifest       *Manifest `db:"-" json:"manifest"`
	AssetsCount    int       `db:"assets_count" json:"assetsCount"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

const (
	EventUpdateCheck   = "update_check"
	EventUpdateServed  = "update_served"
	EventUpdateNone    = "update_none"
	EventAssetDownload = "asset_download"
	EventPatchServed   = "patch_served"
)

type Event struct {
	ID             string         `db:"id" json:"id"`
	EventType      string         `db:"event_type" json:"eventType"`
	Platform       string         `db:"platform" json:"platform"`
	RuntimeVersion string         `db:"runtime_version" json:"runtimeVersion"`
	Channel        string         `db:"channel" json:"channel"`
	AppVersion     string         `db:"app_version" json:"appVersion"`
	DeviceID       string         `db:"device_id" json:"deviceId"`
	OSName         string         `db:"os_name" json:"osName"`
	OSVersion      string         `db:"os_version" json:"osVersion"`
	DeviceModel    string         `db:"device_model" json:"deviceModel"`
	UpdateID       string         `db:"update_id" json:"updateId"`
	Details        map[string]any `db:"-" json:"details"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}
