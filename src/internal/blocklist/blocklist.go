// Package blocklist holds the immutable set of blocked host names.
//
// Lists use the hosts-file format. A line contributes a name only when, after
// trimming, it has exactly two whitespace-separated fields and the first one
// is 127.0.0.1:
//
//	127.0.0.1 ads.example.com      -> ads.example.com
//	127.0.0.1  TRACK.example.com   -> track.example.com
//	0.0.0.0 other.com              -> ignored
//	# comment                      -> ignored
package blocklist

import (
	"bufio"
	"io"
	"strings"

	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

const (
	blockAddress = "127.0.0.1"

	maxLineLength = 64 * 1024
)

// Source supplies one line-oriented list.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Open returns a fresh reader over the list content.
	Open() (io.ReadCloser, error)
}

// BlockList is an immutable set of normalized host names. It is safe for
// concurrent use once Load has returned.
type BlockList struct {
	hosts map[string]struct{}
}

// Load reads every source once and merges their names into one set.
func Load(sources ...Source) (*BlockList, error) {
	hosts := make(map[string]struct{})

	for _, src := range sources {
		count, err := readSource(src, hosts)
		if err != nil {
			return nil, err
		}
		log.Infof("From list \"%s\" loaded %d entries", src.Name(), count)
	}

	log.Infof("Loaded %d blocked hosts", len(hosts))
	return &BlockList{hosts: hosts}, nil
}

// Contains reports whether name is blocked. Matching is exact after
// lowercasing and trailing-dot removal; parent domains are not consulted.
func (b *BlockList) Contains(name string) bool {
	if b == nil {
		return false
	}
	_, ok := b.hosts[dnsmsg.NormalizeName(name)]
	return ok
}

// Len returns the number of distinct blocked names.
func (b *BlockList) Len() int {
	if b == nil {
		return 0
	}
	return len(b.hosts)
}

func readSource(src Source, hosts map[string]struct{}) (int, error) {
	reader, err := src.Open()
	if err != nil {
		return 0, errors.NewListError("failed to open list \""+src.Name()+"\"", err)
	}
	defer reader.Close()

	count := 0
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		if host, ok := ParseLine(scanner.Text()); ok {
			hosts[host] = struct{}{}
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, errors.NewListError("failed to read list \""+src.Name()+"\"", err)
	}

	return count, nil
}

// ParseLine extracts the blocked name from one hosts-file line.
func ParseLine(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != blockAddress {
		return "", false
	}

	host := dnsmsg.NormalizeName(fields[1])
	if host == "" {
		return "", false
	}
	return host, true
}
