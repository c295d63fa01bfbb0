package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maksimkurb/keen-dnsguard/src/internal/utils"
)

type Config struct {
	// General holds general configuration.
	General *GeneralConfig `toml:"general"`
	// Tunnel describes the virtual interface that captures DNS traffic.
	Tunnel *TunnelConfig `toml:"tunnel"`
	// Upstream describes the real resolvers queries are forwarded to.
	Upstream *UpstreamConfig `toml:"upstream"`
	// Dispatcher sizes the query worker pool.
	Dispatcher *DispatcherConfig `toml:"dispatcher"`
	// API configures the status HTTP server.
	API *APIConfig `toml:"api"`
	// Lists contains hosts-format blocklists. You must set "list_name" and either "url", "file" or "hosts" field for each list.
	Lists []*ListSource `toml:"list,omitempty"`

	_absConfigFilePath string
}

type GeneralConfig struct {
	// ListsOutputDir is the directory for downloaded lists.
	ListsOutputDir string `toml:"lists_output_dir" json:"lists_output_dir" validate:"required"`
	// RetryDelaySec is the delay before the session is restarted after a reconnect (default: 2).
	RetryDelaySec *int `toml:"retry_delay_sec" json:"retry_delay_sec" validate:"omitempty,gte=0"`
	// ShutdownGraceMs is how long in-flight queries may take to finish on stop (default: 2000).
	ShutdownGraceMs *int `toml:"shutdown_grace_ms" json:"shutdown_grace_ms" validate:"omitempty,gte=0"`
}

type TunnelConfig struct {
	// Name is the TUN interface name (default: dnsguard0).
	Name string `toml:"name" json:"name" validate:"omitempty,max=15"`
	// Address is the tunnel address with prefix length (default: 192.168.50.1/24).
	Address string `toml:"address" json:"address" validate:"omitempty,ipv4_prefix"`
	// DNSAddress is the resolver address announced through the tunnel (default: 192.168.50.5).
	DNSAddress string `toml:"dns_address" json:"dns_address" validate:"omitempty,ipv4"`
	// Routes are prefixes routed into the tunnel (default: ["192.168.50.0/24"]).
	Routes []string `toml:"routes" json:"routes" validate:"dive,ipv4_prefix"`
	// MTU of the tunnel interface (default: 1500).
	MTU int `toml:"mtu" json:"mtu" validate:"omitempty,min=576,max=65535"`
	// CaptureDNS installs iptables rules sending host DNS traffic to the tunnel DNS address (default: true).
	CaptureDNS *bool `toml:"capture_dns" json:"capture_dns"`
	// ProtectFwMark is the fwmark set on upstream sockets so they bypass the capture rules (default: 0x1d53, 0 disables).
	ProtectFwMark *uint32 `toml:"protect_fwmark" json:"protect_fwmark"`
	// CaptureRules replace the built-in capture rules. Available variables: {{dns_addr}}, {{fwmark}}, {{tun}}.
	CaptureRules []*IPTablesRule `toml:"capture_rule,omitempty" json:"capture_rule,omitempty" validate:"dive"`
}

type IPTablesRule struct {
	Chain string   `toml:"chain" json:"chain" validate:"required"`
	Table string   `toml:"table" json:"table" validate:"required"`
	Rule  []string `toml:"rule" json:"rule" validate:"required,min=1"`
}

type UpstreamConfig struct {
	// Servers are upstream resolvers as ip or ip:port. Empty means discover from resolv_conf.
	Servers []string `toml:"servers" json:"servers" validate:"dive,upstream_addr"`
	// ResolvConf is the resolver configuration used for discovery (default: /etc/resolv.conf).
	ResolvConf string `toml:"resolv_conf" json:"resolv_conf"`
	// QueryTimeoutSec bounds a single upstream exchange (default: 5, 0 waits until shutdown).
	QueryTimeoutSec *int `toml:"query_timeout_sec" json:"query_timeout_sec" validate:"omitempty,gte=0"`
}

type DispatcherConfig struct {
	// Workers is the number of concurrent query workers (default: 16).
	Workers int `toml:"workers" json:"workers" validate:"omitempty,min=1,max=1024"`
	// QueueSize is the number of frames that may wait for a worker (default: 256).
	QueueSize int `toml:"queue_size" json:"queue_size" validate:"omitempty,min=1"`
}

type APIConfig struct {
	// Enabled starts the status API together with the service (default: false).
	Enabled bool `toml:"enabled" json:"enabled"`
	// Listen is the status API listen address (default: 127.0.0.1:8053).
	Listen string `toml:"listen" json:"listen" validate:"hostport_or_empty"`
}

type ListSource struct {
	// ListName is the name of the list.
	ListName string `toml:"list_name" json:"list_name" validate:"required"`
	// URL is the URL of the list (optional).
	URL string `toml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
	// File is the local file path of the list (optional).
	File string `toml:"file,omitempty" json:"file,omitempty"`
	// Hosts is a list of hosts-format lines, e.g. "127.0.0.1 ads.example.com" (optional).
	Hosts []string `toml:"hosts,omitempty" json:"hosts,omitempty"`
}

func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

func (c *Config) GetConfigFilePath() string {
	return c._absConfigFilePath
}

func (c *Config) GetAbsDownloadedListsDir() string {
	return utils.GetAbsolutePath(c.General.ListsOutputDir, c.GetConfigDir())
}

func (lst *ListSource) Type() string {
	if lst.URL != "" {
		return "url"
	} else if lst.File != "" {
		return "file"
	} else {
		return "hosts"
	}
}

func (lst *ListSource) Name() string {
	return lst.ListName
}

func (lst *ListSource) GetAbsolutePath(cfg *Config) (string, error) {
	var path string
	switch {
	case lst.URL != "":
		path = filepath.Join(cfg.GetAbsDownloadedListsDir(), fmt.Sprintf("%s.lst", lst.ListName))
	case lst.File != "":
		path = utils.GetAbsolutePath(lst.File, cfg.GetConfigDir())
	case lst.Hosts != nil:
		return "", fmt.Errorf("list is not a file")
	}

	if path == "" {
		return "", fmt.Errorf("list path is empty")
	}

	return path, nil
}

func (lst *ListSource) GetAbsolutePathAndCheckExists(cfg *Config) (string, error) {
	path, err := lst.GetAbsolutePath(cfg)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if lst.URL != "" {
			return "", fmt.Errorf("list file does not exist: %s, please run 'keen-dnsguard download' first", path)
		}
		return "", fmt.Errorf("list file does not exist: %s", path)
	}

	return path, nil
}
