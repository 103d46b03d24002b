package protocol

import (
	"mime"
	"strings"

	"github.com/shiftcal/ota-server/internal/model"
)

// UpdateContext is the structured view of the protocol headers on an inbound
// manifest request.
type UpdateContext struct {
	ProtocolVersion       string
	Platform              string
	RuntimeVersion        string
	Channel               string
	CurrentUpdateID       string
	ExpectSignatureHeader string
	ExpectSignature       SFVDictionary
	ExpectSignatureValid  bool

	AppVersion  string
	DeviceID    string
	OSName      string
	OSVersion   string
	DeviceModel string
}

// ParseUpdateContext decodes protocol headers through the supplied getter.
// A malformed expect-signature header yields ExpectSignatureValid=false with
// a nil dictionary; callers must treat that as a client protocol error.
func ParseUpdateContext(get func(key string) string) UpdateContext {
	ctx := UpdateContext{
		ProtocolVersion:       get(HeaderProtocolVersion),
		Platform:              strings.ToLower(strings.TrimSpace(get(HeaderPlatform))),
		RuntimeVersion:        get(HeaderRuntimeVersion),
		Channel:               get(HeaderChannelName),
		CurrentUpdateID:       get(HeaderCurrentUpdateID),
		ExpectSignatureHeader: get(HeaderExpectSignature),
		ExpectSignatureValid:  true,
		AppVersion:            get(HeaderAppVersion),
		DeviceID:              get(HeaderDeviceID),
		OSName:                get(HeaderOSName),
		OSVersion:             get(HeaderOSVersion),
		DeviceModel:           get(HeaderDeviceModel),
	}

	if ctx.Channel == "" {
		ctx.Channel = model.DefaultChannel
	}
	if ctx.ExpectSignatureHeader != "" {
		ctx.ExpectSignature, ctx.ExpectSignatureValid = ParseSFVDictionary(ctx.ExpectSignatureHeader)
	}
	return ctx
}

// ResolveContentType maps a stored filename to a content type. Bundle
// files always map to application/javascript, matching the content type
// recorded in manifests regardless of the host mime table.
func ResolveContentType(filePath string) string {
	if strings.HasSuffix(filePath, ".js") ||
		strings.HasSuffix(filePath, ".hbc") ||
		strings.HasSuffix(filePath, ".bundle") {
		return "application/javascript"
	}

	dot := strings.LastIndex(filePath, ".")
	if dot >= 0 {
		if byExt := mime.TypeByExtension(filePath[dot:]); byExt != "" {
			if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
				return mediaType
			}
		}
	}
	return "application/octet-stream"
}
