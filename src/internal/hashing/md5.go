package hashing

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"sort"
)

// Reader passes reads through and hashes every byte it returns.
type Reader struct {
	reader io.Reader
	digest hash.Hash
	n      int64
}

// NewMD5Reader wraps reader with an MD5 digest.
func NewMD5Reader(reader io.Reader) *Reader {
	return &Reader{
		reader: reader,
		digest: md5.New(),
	}
}

func (r *Reader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)
	if n > 0 {
		// hash.Hash.Write never fails
		r.digest.Write(buf[:n])
		r.n += int64(n)
	}
	return n, err
}

// Checksum returns the hex digest of the bytes read so far.
func (r *Reader) Checksum() string {
	return hex.EncodeToString(r.digest.Sum(nil))
}

// BytesRead returns how many bytes passed through the reader.
func (r *Reader) BytesRead() int64 {
	return r.n
}

// FileChecksum returns the hex MD5 digest of a file's contents.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := NewMD5Reader(f)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return r.Checksum(), nil
}

// LinesChecksum returns the hex MD5 digest of lines, independent of order.
func LinesChecksum(lines []string) string {
	sorted := make([]string, len(lines))
	copy(sorted, lines)
	sort.Strings(sorted)

	digest := md5.New()
	for _, line := range sorted {
		io.WriteString(digest, line)
		io.WriteString(digest, "\n")
	}
	return hex.EncodeToString(digest.Sum(nil))
}
