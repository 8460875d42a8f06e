package enrich

import "strings"

// DeviceInfo is a best-effort classification of a user-agent string.
// Empty fields mean the attribute could not be determined.
type DeviceInfo struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Device  string `json:"device,omitempty"`
}

// browserChecks is ordered: Chrome embeds a Safari token and Edge embeds a
// Chrome token, so the more specific product must be checked first.
var browserChecks = []struct {
	token string
	name  string
}{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Opera/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
}

// osChecks is ordered: Android user agents carry a Linux token and iOS user
// agents carry a Mac OS X token.
var osChecks = []struct {
	token string
	name  string
}{
	{"Android", "Android"},
	{"iPhone OS", "iOS"},
	{"iPad", "iOS"},
	{"Windows NT", "Windows"},
	{"Mac OS X", "macOS"},
	{"Linux", "Linux"},
}

var deviceChecks = []string{"iPhone", "iPad", "Android", "Mobile"}

// ParseUserAgent extracts browser, OS, and device class from a user-agent
// string. Unparseable input yields an empty DeviceInfo, never an error.
func ParseUserAgent(ua string) DeviceInfo {
	var info DeviceInfo

	for _, c := range browserChecks {
		if strings.Contains(ua, c.token) {
			info.Browser = c.name
			break
		}
	}

	for _, c := range osChecks {
		if strings.Contains(ua, c.token) {
			info.OS = c.name
			break
		}
	}

	for _, token := range deviceChecks {
		if strings.Contains(ua, token) {
			info.Device = token
			break
		}
	}

	return info
}

// Metadata returns the device info as metadata entries for the event bag.
// Unknown attributes are omitted.
func (d DeviceInfo) Metadata() map[string]any {
	out := make(map[string]any, 3)
	if d.Browser != "" {
		out["browser"] = d.Browser
	}
	if d.OS != "" {
		out["os"] = d.OS
	}
	if d.Device != "" {
		out["device"] = d.Device
	}
	return out
}
