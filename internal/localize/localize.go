// Package localize renders control-protocol error messages in the
// requesting client's locale, with positional %1/%2/%3 substitution and a
// xx_YY -> xx -> en fallback chain (spec.md §7). Log lines are never
// localized: they are always written in en, independent of which locale a
// client requested.
package localize

import "strings"

// Key identifies one localizable message template, matching the error codes
// the control executor can produce.
type Key int

const (
	ErrAuthentication Key = iota
	ErrOperation
	ErrLogLevel
	ErrMissingDeviceID
	ErrMissingFilename
	ErrImageInUse
	ErrReservedID
	ErrNonExistingDevice
	ErrNonExistingUnit
	ErrUnknownDeviceType
	ErrMissingDeviceType
	ErrDuplicateID
	ErrEjectRequired
	ErrDeviceNameUpdate
	ErrShutdownModeMissing
	ErrShutdownModeInvalid
	ErrShutdownPermission
	ErrFileOpen
	ErrBlockSize
	ErrBlockSizeNotConfigurable
)

// catalog holds the message templates of each cataloged locale, keyed by
// locale name.
var catalog = map[string]map[Key]string{
	"en": {
		ErrAuthentication:           "Authentication failed",
		ErrOperation:                "Operation %1 failed: %2",
		ErrLogLevel:                 "Invalid log level: %1",
		ErrMissingDeviceID:          "Missing device ID",
		ErrMissingFilename:          "Missing filename",
		ErrImageInUse:               "Image file %1 is already in use",
		ErrReservedID:               "ID %1 is reserved",
		ErrNonExistingDevice:        "No device for ID %1",
		ErrNonExistingUnit:          "No device for ID %1, unit %2",
		ErrUnknownDeviceType:        "Unknown device type: %1",
		ErrMissingDeviceType:        "Missing device type",
		ErrDuplicateID:              "Duplicate ID %1, unit %2",
		ErrEjectRequired:            "Eject the medium first",
		ErrDeviceNameUpdate:         "Updating the device name is not allowed while it is running",
		ErrShutdownModeMissing:      "Missing shutdown mode",
		ErrShutdownModeInvalid:      "Invalid shutdown mode: %1",
		ErrShutdownPermission:       "Shutdown permission denied",
		ErrFileOpen:                 "Can't open image file %1: %2",
		ErrBlockSize:                "Invalid block size: %1",
		ErrBlockSizeNotConfigurable: "The block size cannot be configured for this device",
	},
	"de": {
		ErrAuthentication:    "Authentifizierung fehlgeschlagen",
		ErrMissingDeviceID:   "Fehlende Geräte-ID",
		ErrMissingFilename:   "Fehlender Dateiname",
		ErrImageInUse:        "Image-Datei %1 wird bereits verwendet",
		ErrReservedID:        "ID %1 ist reserviert",
		ErrNonExistingDevice: "Kein Gerät für ID %1",
		ErrFileOpen:          "Image-Datei %1 kann nicht geöffnet werden: %2",
	},
}

var supported = map[string]bool{"en": true, "de": true, "sv": true, "fr": true, "es": true}

// resolveLocale implements the xx_YY -> xx -> en fallback chain.
func resolveLocale(locale string) string {
	locale = strings.ToLower(locale)
	if supported[locale] {
		if _, ok := catalog[locale]; ok {
			return locale
		}
	}
	if idx := strings.IndexByte(locale, '_'); idx >= 0 {
		base := locale[:idx]
		if _, ok := catalog[base]; ok {
			return base
		}
	}
	return "en"
}

// Message renders key in the requested locale, substituting args into %1,
// %2, %3 in order. An unknown key or locale falls back to the en template.
func Message(locale string, key Key, args ...string) string {
	tmpl, ok := catalog[resolveLocale(locale)][key]
	if !ok {
		tmpl, ok = catalog["en"][key]
		if !ok {
			return ""
		}
	}
	for i, arg := range args {
		placeholder := "%" + string(rune('1'+i))
		tmpl = strings.ReplaceAll(tmpl, placeholder, arg)
	}
	return tmpl
}
