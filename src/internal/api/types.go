package api

import (
	"github.com/maksimkurb/keen-dnsguard/src/internal/dispatcher"
)

// DataResponse wraps successful responses with a "data" field.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// VersionInfo contains build version information.
type VersionInfo struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

// StatusResponse describes the running session.
type StatusResponse struct {
	Version       VersionInfo      `json:"version"`
	Session       SessionStatus    `json:"session"`
	Tunnel        string           `json:"tunnel,omitempty"`
	Upstreams     []string         `json:"upstreams"`
	BlockedHosts  int              `json:"blocked_hosts"`
	Queries       dispatcher.Stats `json:"queries"`
	ConfigChanged bool             `json:"config_changed"`
	Lists         []*ListInfo      `json:"lists"`
}

// ListInfo describes one configured list.
type ListInfo struct {
	ListName     string  `json:"list_name"`
	Type         string  `json:"type"` // "url", "file", "hosts"
	URL          string  `json:"url,omitempty"`
	File         string  `json:"file,omitempty"`
	Available    bool    `json:"available"`
	LastModified *string `json:"last_modified,omitempty"` // RFC3339, file and URL lists only
}

// CheckResponse answers whether a name would be blocked.
type CheckResponse struct {
	Domain     string `json:"domain"`
	Normalized string `json:"normalized"`
	Blocked    bool   `json:"blocked"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Healthy bool                   `json:"healthy"`
	Checks  map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}
