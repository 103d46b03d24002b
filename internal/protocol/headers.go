package protocol

import "strings"

// Request headers read from update clients.
const (
	HeaderProtocolVersion   = "expo-protocol-version"
	HeaderPlatform          = "expo-platform"
	HeaderRuntimeVersion    = "expo-runtime-version"
	HeaderChannelName       = "expo-channel-name"
	HeaderCurrentUpdateID   = "expo-current-update-id"
	HeaderRequestedUpdateID = "expo-requested-update-id"
	HeaderExpectSignature   = "expo-expect-signature"

	HeaderAppVersion  = "x-app-version"
	HeaderDeviceID    = "x-device-id"
	HeaderOSName      = "x-os-name"
	HeaderOSVersion   = "x-os-version"
	HeaderDeviceModel = "x-device-model"

	HeaderAcceptIM = "a-im"
)

// Response headers.
const (
	HeaderSignature            = "expo-signature"
	HeaderSFVVersion           = "expo-sfv-version"
	HeaderManifestFilters      = "expo-manifest-filters"
	HeaderServerDefinedHeaders = "expo-server-defined-headers"
	HeaderIM                   = "im"
	HeaderBaseUpdateID         = "x-base-update-id"
	HeaderFallbackReason       = "x-patch-fallback-reason"
)

const (
	ProtocolVersion = "1"
	SFVVersion      = "0"

	ContentTypeExpoJSON = "application/expo+json"
	ContentTypeJSON     = "application/json"
	ContentTypeBsdiff   = "application/vnd.bsdiff"

	IMBsdiff = "bsdiff"

	ManifestCacheControl = "private, max-age=0"
	AssetCacheControl    = "public, max-age=31536000, immutable"
	PatchCacheControl    = "private, no-store"
)

// ManifestVary covers every request header manifest negotiation depends on.
var ManifestVary = []string{
	"accept",
	HeaderProtocolVersion,
	HeaderPlatform,
	HeaderRuntimeVersion,
	HeaderChannelName,
	HeaderCurrentUpdateID,
	HeaderExpectSignature,
}

// PatchVary covers the headers the asset decision chain depends on.
var PatchVary = []string{
	HeaderAcceptIM,
	HeaderCurrentUpdateID,
	HeaderRequestedUpdateID,
}

type ResponseHeaderOptions struct {
	ManifestFilters      map[string]string
	ServerDefinedHeaders map[string]string
	CacheControl         string
	Vary                 []string
}

// ApplyResponseHeaders writes the protocol response header set through the
// supplied setter.
func ApplyResponseHeaders(set func(key, value string), opts ResponseHeaderOptions) {
	set(HeaderProtocolVersion, ProtocolVersion)
	set(HeaderSFVVersion, SFVVersion)
	set(HeaderManifestFilters, SerializeSFVDictionary(opts.ManifestFilters))
	set(HeaderServerDefinedHeaders, SerializeSFVDictionary(opts.ServerDefinedHeaders))

	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = ManifestCacheControl
	}
	set("cache-control", cacheControl)

	vary := opts.Vary
	if len(vary) == 0 {
		vary = ManifestVary
	}
	set("vary", strings.Join(vary, ", "))
}
