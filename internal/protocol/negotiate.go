package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// SupportedManifestContentTypes is the ordered set the negotiator picks from.
var SupportedManifestContentTypes = []string{ContentTypeExpoJSON, ContentTypeJSON}

type acceptEntry struct {
	value       string
	quality     float64
	specificity int
	index       int
}

func parseQuality(params []string) float64 {
	quality := 1.0
	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		quality = min(1, max(0, parsed))
	}
	return quality
}

func parseAcceptEntries(header string, mediaType bool) []acceptEntry {
	var entries []acceptEntry
	for index, part := range splitCSV(header) {
		segments := strings.Split(part, ";")
		value := strings.ToLower(strings.TrimSpace(segments[0]))
		if value == "" || (mediaType && !strings.Contains(value, "/")) {
			continue
		}

		specificity := 2
		switch {
		case value == "*/*" || value == "*":
			specificity = 0
		case strings.HasSuffix(value, "/*"):
			specificity = 1
		}

		entries = append(entries, acceptEntry{
			value:       value,
			quality:     parseQuality(segments[1:]),
			specificity: specificity,
			index:       index,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].quality != entries[j].quality {
			return entries[i].quality > entries[j].quality
		}
		if entries[i].specificity != entries[j].specificity {
			return entries[i].specificity > entries[j].specificity
		}
		return entries[i].index < entries[j].index
	})
	return entries
}

func mediaTypeMatches(accepted, supported string) bool {
	if accepted == "*/*" {
		return true
	}

	acceptedType, acceptedSubtype, ok := strings.Cut(accepted, "/")
	if !ok || acceptedType == "" || acceptedSubtype == "" {
		return false
	}

	if acceptedSubtype == "*" {
		supportedType, _, _ := strings.Cut(supported, "/")
		return acceptedType == supportedType
	}
	return accepted == supported
}

// NegotiateManifestContentType picks the best supported manifest media type
// for an Accept header. An absent or blank header defaults to the primary
// variant without negotiation; "" means nothing was acceptable.
func NegotiateManifestContentType(accept string) string {
	if strings.TrimSpace(accept) == "" {
		return ContentTypeExpoJSON
	}

	for _, entry := range parseAcceptEntries(accept, true) {
		if entry.quality <= 0 {
			continue
		}
		for _, supported := range SupportedManifestContentTypes {
			if mediaTypeMatches(entry.value, supported) {
				return supported
			}
		}
	}
	return ""
}

// NegotiateIM picks the preferred instance-manipulation token from an A-IM
// header, using the same quality/specificity/order tie-break as the manifest
// negotiator. "" means none of the supported tokens was requested with a
// positive quality.
func NegotiateIM(header string, supported ...string) string {
	for _, entry := range parseAcceptEntries(header, false) {
		if entry.quality <= 0 {
			continue
		}
		for _, token := range supported {
			if entry.value == token || entry.value == "*" {
				return token
			}
		}
	}
	return ""
}
