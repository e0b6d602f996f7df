// Package device turns a kiosk's User-Agent into the display name stored on
// attendance sessions.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// maxDisplayLength bounds what is persisted; User-Agent is client controlled.
const maxDisplayLength = 128

// ParseUserAgent returns "<browser> on <os>", e.g. "Chrome on Intel Mac OS X
// 10_15_7". Empty input yields "Unknown Device".
func ParseUserAgent(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return unknownDevice
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}

	name := strings.Join(strings.Fields(browser+" on "+os), " ")
	if len(name) > maxDisplayLength {
		name = name[:maxDisplayLength]
	}
	return name
}
