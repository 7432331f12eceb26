package utils

import (
	"github.com/mssola/user_agent"
)

// DeviceTypeFromUserAgent classifies a User-Agent string for the audit
// trail: mobile, bot, or desktop.
func DeviceTypeFromUserAgent(uaString string) string {
	if uaString == "" || uaString == "Unknown" {
		return "unknown"
	}

	ua := user_agent.New(uaString)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
