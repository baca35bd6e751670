package instance

import (
	"os"
	"strings"
)

const fallbackID = "worker-0"

// GetID returns the process instance identifier used to tag lock ownership and
// logs. COOP_INSTANCE_ID wins, then the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("COOP_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
