package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dispatcher"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/session"
)

// SessionView is the read side of the session controller.
type SessionView interface {
	State() session.State
	Runtime() *session.Runtime
	Blocklist() *blocklist.BlockList
	Stats() dispatcher.Stats
}

// Handler serves the status endpoints.
type Handler struct {
	cfg     *config.Config
	session SessionView
	tracker *StatusTracker
	hasher  *config.ConfigHasher
	version VersionInfo
}

func NewHandler(cfg *config.Config, view SessionView, tracker *StatusTracker, hasher *config.ConfigHasher, version VersionInfo) *Handler {
	return &Handler{
		cfg:     cfg,
		session: view,
		tracker: tracker,
		hasher:  hasher,
		version: version,
	}
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// GetStatus returns the session state, resolvers, counters and lists.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:   h.version,
		Session:   h.tracker.Snapshot(),
		Upstreams: []string{},
		Queries:   h.session.Stats(),
		Lists:     h.listInfos(),
	}

	if rt := h.session.Runtime(); rt != nil {
		resp.Tunnel = rt.Tunnel.Name()
		for _, server := range rt.Upstreams {
			resp.Upstreams = append(resp.Upstreams, server.String())
		}
	}
	if bl := h.session.Blocklist(); bl != nil {
		resp.BlockedHosts = bl.Len()
	}
	resp.ConfigChanged = h.configChanged()

	writeJSONData(w, resp)
}

// CheckDomain reports whether a name would be blocked.
// GET /api/v1/check?domain=ads.example.com
func (h *Handler) CheckDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		WriteInvalidRequest(w, "domain parameter is required")
		return
	}

	bl := h.session.Blocklist()
	if bl == nil {
		WriteUnavailable(w, "block lists are not loaded yet")
		return
	}

	writeJSONData(w, CheckResponse{
		Domain:     domain,
		Normalized: dnsmsg.NormalizeName(domain),
		Blocked:    bl.Contains(domain),
	})
}

// CheckHealth is healthy while the session is RUNNING.
// GET /api/v1/health
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Healthy: true,
		Checks:  make(map[string]CheckResult),
	}

	state := h.session.State()
	if state == session.Running {
		response.Checks["session"] = CheckResult{Passed: true, Message: "Session is running"}
	} else {
		response.Healthy = false
		msg := "Session is " + state.String()
		if last := h.tracker.Snapshot().LastError; last != "" {
			msg += ": " + last
		}
		response.Checks["session"] = CheckResult{Passed: false, Message: msg}
	}

	if h.configChanged() {
		response.Checks["config"] = CheckResult{Passed: false, Message: "Configuration changed on disk, restart the service to apply it"}
	} else {
		response.Checks["config"] = CheckResult{Passed: true, Message: "Running configuration is current"}
	}

	if !response.Healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(DataResponse{Data: response})
		return
	}
	writeJSONData(w, response)
}

// configChanged compares the hash of the file on disk with the one the
// service started with.
func (h *Handler) configChanged() bool {
	if h.hasher == nil {
		return false
	}
	active := h.hasher.GetActiveConfigHash()
	if active == "" {
		return false
	}
	current, err := h.hasher.GetCurrentConfigHash()
	if err != nil {
		log.Debugf("[API] Failed to hash configuration: %v", err)
		return false
	}
	return current != active
}

func (h *Handler) listInfos() []*ListInfo {
	infos := make([]*ListInfo, 0, len(h.cfg.Lists))
	for _, list := range h.cfg.Lists {
		info := &ListInfo{
			ListName: list.ListName,
			Type:     list.Type(),
			URL:      list.URL,
			File:     list.File,
		}

		if info.Type == "hosts" {
			info.Available = true
		} else if path, err := list.GetAbsolutePath(h.cfg); err == nil {
			if stat, err := os.Stat(path); err == nil {
				info.Available = true
				modified := stat.ModTime().Format(time.RFC3339)
				info.LastModified = &modified
			}
		}
		infos = append(infos, info)
	}
	return infos
}
