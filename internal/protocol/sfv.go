package protocol

import (
	"regexp"
	"sort"
	"strings"
)

var (
	sfvKeyRegexp     = regexp.MustCompile(`(?i)^[a-z*][a-z0-9_.*-]*$`)
	sfvUnsafeKeyChar = regexp.MustCompile(`[^a-z0-9_.*-]`)
)

// SFVMember is one member of a structured-field-value dictionary. A bare key
// without '=' is a boolean true member with Flag set.
type SFVMember struct {
	Flag  bool
	Value string
}

type SFVDictionary map[string]SFVMember

// GetString returns the member's string value, or "" for boolean members.
func (d SFVDictionary) GetString(key string) string {
	member, ok := d[key]
	if !ok || member.Flag {
		return ""
	}
	return member.Value
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseSFVDictionary parses the structured-field dictionary subset used for
// signature negotiation: unquoted values, double-quoted strings with \"
// escaping, and byte-sequence tokens (:...:, kept verbatim). Malformed input
// yields (nil, false); callers treat that as a client protocol error.
func ParseSFVDictionary(raw string) (SFVDictionary, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SFVDictionary{}, true
	}

	dictionary := SFVDictionary{}
	for _, member := range splitCSV(trimmed) {
		key, rawValue, hasValue := strings.Cut(member, "=")
		key = strings.TrimSpace(key)
		if !sfvKeyRegexp.MatchString(key) {
			return nil, false
		}

		if !hasValue {
			dictionary[key] = SFVMember{Flag: true}
			continue
		}

		rawValue = strings.TrimSpace(rawValue)
		switch {
		case strings.HasPrefix(rawValue, `"`) && strings.HasSuffix(rawValue, `"`) && len(rawValue) >= 2:
			unquoted := rawValue[1 : len(rawValue)-1]
			dictionary[key] = SFVMember{Value: strings.ReplaceAll(unquoted, `\"`, `"`)}
		default:
			// Byte sequences (:...:) and bare tokens are kept verbatim.
			dictionary[key] = SFVMember{Value: rawValue}
		}
	}

	return dictionary, true
}

// SerializeSFVDictionary renders key="value" members joined by ", ", with
// keys lowercased and coerced to the dictionary key charset.
func SerializeSFVDictionary(dictionary map[string]string) string {
	if len(dictionary) == 0 {
		return ""
	}

	keys := make([]string, 0, len(dictionary))
	for key := range dictionary {
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	members := make([]string, 0, len(keys))
	for _, key := range keys {
		safeKey := sfvUnsafeKeyChar.ReplaceAllString(strings.ToLower(key), "-")
		safeValue := strings.ReplaceAll(dictionary[key], `"`, `\"`)
		members = append(members, safeKey+`="`+safeValue+`"`)
	}
	return strings.Join(members, ", ")
}

// UnquoteUpdateID strips a single leading and trailing double quote.
func UnquoteUpdateID(value string) string {
	return strings.TrimPrefix(strings.TrimSuffix(value, `"`), `"`)
}
