package blocklist

import (
	stderrors "errors"
	"io"
	"sort"
	"testing"

	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
)

func TestLoad_HostsFormat(t *testing.T) {
	src := StringSource{
		SourceName: "test",
		Lines: []string{
			"127.0.0.1 ads.example.com",
			"# comment",
			"127.0.0.1  TRACK.example.com",
			"0.0.0.0 other.com",
		},
	}

	bl, err := Load(src)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := names(bl)
	want := []string{"ads.example.com", "track.example.com"}
	if len(got) != len(want) {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Load() = %v, want %v", got, want)
		}
	}
}

func TestLoad_MergesAndDeduplicates(t *testing.T) {
	first := StringSource{SourceName: "adaway", Lines: []string{
		"127.0.0.1 localhost.example",
		"127.0.0.1 ads.example.com",
		"\t127.0.0.1\tdoubleclick.example\t",
	}}
	second := StringSource{SourceName: "ad_servers", Lines: []string{
		"127.0.0.1 ADS.example.com.",
		"127.0.0.1 tracker.example # inline comment",
		"127.0.0.1",
		"",
		"   ",
	}}

	bl, err := Load(first, second)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if bl.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (%v)", bl.Len(), names(bl))
	}
	for _, host := range []string{"localhost.example", "ads.example.com", "doubleclick.example"} {
		if !bl.Contains(host) {
			t.Errorf("Contains(%q) = false, want true", host)
		}
	}
	if bl.Contains("tracker.example") {
		t.Error("line with three fields must be ignored")
	}
}

func TestContains_ExactMatchOnly(t *testing.T) {
	bl, err := Load(StringSource{SourceName: "x", Lines: []string{"127.0.0.1 ads.example.com"}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"ads.example.com", true},
		{"ADS.EXAMPLE.COM", true},
		{"ads.example.com.", true},
		{"sub.ads.example.com", false},
		{"example.com", false},
		{"ads.example.co", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := bl.Contains(tt.name); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContains_NilList(t *testing.T) {
	var bl *BlockList
	if bl.Contains("example.com") {
		t.Error("nil list must not block anything")
	}
	if bl.Len() != 0 {
		t.Error("nil list must be empty")
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Open() (io.ReadCloser, error) {
	return nil, stderrors.New("no such file")
}

func TestLoad_SourceError(t *testing.T) {
	_, err := Load(StringSource{SourceName: "ok"}, failingSource{})
	if err == nil {
		t.Fatal("Load() error = nil, want list error")
	}
	var domainErr *errors.Error
	if !stderrors.As(err, &domainErr) || domainErr.Code != errors.ErrCodeList {
		t.Errorf("Load() error = %v, want LIST_ERROR", err)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		host string
		ok   bool
	}{
		{"127.0.0.1 a.example", "a.example", true},
		{"  127.0.0.1 A.Example  ", "a.example", true},
		{"127.0.0.1 .", "", false},
		{"127.0.0.2 a.example", "", false},
		{"::1 a.example", "", false},
		{"#127.0.0.1 a.example", "", false},
	}

	for _, tt := range tests {
		host, ok := ParseLine(tt.line)
		if host != tt.host || ok != tt.ok {
			t.Errorf("ParseLine(%q) = (%q, %v), want (%q, %v)", tt.line, host, ok, tt.host, tt.ok)
		}
	}
}

func names(bl *BlockList) []string {
	out := make([]string, 0, len(bl.hosts))
	for host := range bl.hosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
