package walnutdb

import (
	"encoding/base64"
	"reflect"
	"regexp"
	"strings"
)

var unsafeSegmentChar = regexp.MustCompile(`[^A-Za-z0-9_\-.]`)

const maxSegmentNameLen = 180

const base64Marker = "__b64__"

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// EncodeSegmentName maps a logical table or index name to a filesystem-safe
// segment base name: unsafe characters become `_`, the result is
// trimmed to maxSegmentNameLen, and a reserved device name or a trailing
// dot forces a base64url-without-padding encoding of the original UTF-8
// name instead, marked with base64Marker so DecodeSegmentName can reverse
// it unambiguously.
func EncodeSegmentName(name string) string {
	if needsBase64(name) {
		return base64Marker + base64.RawURLEncoding.EncodeToString([]byte(name))
	}
	safe := unsafeSegmentChar.ReplaceAllString(name, "_")
	if len(safe) > maxSegmentNameLen {
		safe = safe[:maxSegmentNameLen]
	}
	if needsBase64(safe) {
		return base64Marker + base64.RawURLEncoding.EncodeToString([]byte(name))
	}
	return safe
}

func needsBase64(name string) bool {
	if strings.HasSuffix(name, ".") {
		return true
	}
	upper := strings.ToUpper(name)
	if idx := strings.Index(upper, "."); idx >= 0 {
		upper = upper[:idx]
	}
	return reservedDeviceNames[upper]
}

// DecodeSegmentName reverses the base64url branch of EncodeSegmentName.
// It returns ok=false for identity-mapped names; the `_` substitution
// branch is lossy by construction, so only the base64url branch
// round-trips.
func DecodeSegmentName(encoded string) (name string, ok bool) {
	if !strings.HasPrefix(encoded, base64Marker) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(encoded, base64Marker))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// ResolveTableName derives the logical table name for v's row type
// according to opts.TypeNaming. Pointers are unwrapped first, so a *User
// and a User resolve to the same table. Only the type's name is inspected;
// fields are never reflected over, row contents stay opaque to the engine.
func ResolveTableName(v any, opts Options) string {
	if opts.TypeNaming == Custom && opts.CustomTypeName != nil {
		return opts.CustomTypeName(v)
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	switch opts.TypeNaming {
	case NameOnly:
		return t.Name()
	case NamespaceQualified:
		if opts.Namespace == "" {
			return t.Name()
		}
		return opts.Namespace + "." + t.Name()
	default:
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
}

// OpenTableFor opens (or re-attaches to) the table whose logical name is
// derived from prototype's type via ResolveTableName, for callers that
// prefer type-driven naming over an explicit name string. Full package
// paths contain characters EncodeSegmentName maps to safe file names, so
// any resolved name is usable as-is.
func (e *Engine) OpenTableFor(prototype any, desc RowDescriptor) (*Table, error) {
	return e.OpenTable(ResolveTableName(prototype, e.opts), desc)
}

// indexTableName derives the persisted logical name of an index's own
// key space from the owning table and index name, following the
// `__index__T__I` naming rule drop-table cleanup and rebuild rely on.
func indexTableName(table, index string) string {
	return "__index__" + table + "__" + index
}
