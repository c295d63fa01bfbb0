package blocklist

import (
	"io"
	"strings"
)

// StringSource serves an in-memory list, used for inline hosts.
type StringSource struct {
	SourceName string
	Lines      []string
}

// Name implements Source.
func (s StringSource) Name() string {
	return s.SourceName
}

// Open implements Source.
func (s StringSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Join(s.Lines, "\n"))), nil
}
