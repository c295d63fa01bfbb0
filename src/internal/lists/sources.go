package lists

import (
	"fmt"
	"io"
	"os"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

// FileSource reads a hosts list from disk.
type FileSource struct {
	ListName string
	Path     string
}

func (s FileSource) Name() string {
	return s.ListName
}

func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.NewListError(fmt.Sprintf("failed to open list \"%s\"", s.ListName), err)
	}
	return f, nil
}

// SourcesFromConfig maps every configured list to a block list source. File
// and URL lists must already exist on disk.
func SourcesFromConfig(cfg *config.Config) ([]blocklist.Source, error) {
	sources := make([]blocklist.Source, 0, len(cfg.Lists))
	for _, list := range cfg.Lists {
		source, err := SourceFor(cfg, list)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// SourceFor maps a single configured list to its source.
func SourceFor(cfg *config.Config, list *config.ListSource) (blocklist.Source, error) {
	if list.Type() == "hosts" {
		return blocklist.StringSource{SourceName: list.ListName, Lines: list.Hosts}, nil
	}

	path, err := list.GetAbsolutePathAndCheckExists(cfg)
	if err != nil {
		return nil, errors.NewListError(fmt.Sprintf("list \"%s\" is not available", list.ListName), err)
	}
	return FileSource{ListName: list.ListName, Path: path}, nil
}

// Loader resolves sources from the configuration on every call, so lists
// downloaded while the service runs are picked up on the next reload.
type Loader struct {
	cfg *config.Config
}

func NewLoader(cfg *config.Config) *Loader {
	return &Loader{cfg: cfg}
}

func (l *Loader) Sources() ([]blocklist.Source, error) {
	return SourcesFromConfig(l.cfg)
}
