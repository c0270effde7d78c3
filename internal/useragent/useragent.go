package useragent

import (
	"strings"
)

// Unknown is reported when a field cannot be derived from the header.
const Unknown = "Unknown"

// Info is the coarse os/browser/device classification derived from a
// User-Agent header. It feeds the per-dimension stat counters, so values come
// from a small closed vocabulary rather than raw header fragments.
type Info struct {
	OS      string
	Browser string
	Device  string
}

// Parse classifies a raw User-Agent header.
func Parse(header string) Info {
	ua := strings.ToLower(header)
	return Info{
		OS:      parseOS(ua),
		Browser: parseBrowser(ua),
		Device:  parseDevice(ua),
	}
}

func parseOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return Unknown
	}
}

func parseBrowser(ua string) string {
	// Order matters: Edge and Opera embed "chrome", Chrome embeds "safari".
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case strings.Contains(ua, "msie"), strings.Contains(ua, "trident"):
		return "IE"
	default:
		return Unknown
	}
}

func parseDevice(ua string) string {
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "Tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"),
		strings.Contains(ua, "android"):
		return "Mobile"
	case ua == "":
		return Unknown
	default:
		return "PC"
	}
}
