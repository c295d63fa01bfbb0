package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/hashing"
)

const hashCacheTTL = 5 * time.Minute

// ConfigHasher calculates an MD5 hash of the configuration together with the
// contents of every list it references. The service records the hash it was
// started with so the status API can report a stale configuration.
type ConfigHasher struct {
	configPath string

	currentHash     string
	currentHashTime time.Time

	activeHash string

	mu sync.RWMutex
}

func NewConfigHasher(configPath string) *ConfigHasher {
	return &ConfigHasher{configPath: configPath}
}

// GetCurrentConfigHash returns the cached hash of the config file on disk,
// recalculating it once the cache expires.
func (h *ConfigHasher) GetCurrentConfigHash() (string, error) {
	h.mu.RLock()
	if time.Since(h.currentHashTime) < hashCacheTTL && h.currentHash != "" {
		hash := h.currentHash
		h.mu.RUnlock()
		return hash, nil
	}
	h.mu.RUnlock()

	return h.UpdateCurrentConfigHash()
}

// UpdateCurrentConfigHash reloads the config file and recalculates its hash.
func (h *ConfigHasher) UpdateCurrentConfigHash() (string, error) {
	cfg, err := LoadConfig(h.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	hash, err := h.CalculateHash(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}

	h.mu.Lock()
	h.currentHash = hash
	h.currentHashTime = time.Now()
	h.mu.Unlock()

	return hash, nil
}

func (h *ConfigHasher) GetActiveConfigHash() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeHash
}

func (h *ConfigHasher) SetActiveConfigHash(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeHash = hash
}

// CalculateHash hashes a loaded configuration.
func (h *ConfigHasher) CalculateHash(cfg *Config) (string, error) {
	data := &configHashData{
		General:    cfg.General,
		Tunnel:     cfg.Tunnel,
		Upstream:   cfg.Upstream,
		Dispatcher: cfg.Dispatcher,
		ListMD5s:   make(map[string]string, len(cfg.Lists)),
	}

	for _, list := range cfg.Lists {
		hash, err := hashList(cfg, list)
		if err != nil {
			// An unreadable list still has to change the hash
			hash = fmt.Sprintf("error:%v", err)
		}
		data.ListMD5s[list.ListName] = hash
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data: %w", err)
	}

	sum := md5.Sum(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

func hashList(cfg *Config, list *ListSource) (string, error) {
	if list.Type() == "hosts" {
		return hashing.LinesChecksum(list.Hosts), nil
	}

	path, err := list.GetAbsolutePath(cfg)
	if err != nil {
		return "", err
	}

	hash, err := hashing.FileChecksum(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash list file: %w", err)
	}
	return hash, nil
}

type configHashData struct {
	General    *GeneralConfig    `json:"general"`
	Tunnel     *TunnelConfig     `json:"tunnel"`
	Upstream   *UpstreamConfig   `json:"upstream"`
	Dispatcher *DispatcherConfig `json:"dispatcher"`
	ListMD5s   map[string]string `json:"list_md5s"`
}
