package lists

import (
	"os"
	"strings"

	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

func checksumPath(filePath string) string {
	return filePath + ".md5"
}

// isFileChanged compares md5 with the checksum stored next to filePath. A
// missing list or checksum file counts as changed.
func isFileChanged(md5, filePath string) bool {
	if _, err := os.Stat(filePath); err != nil {
		return true
	}

	stored, err := os.ReadFile(checksumPath(filePath))
	if err != nil {
		log.Debugf("Failed to read checksum file '%s', assuming it's changed: %v", checksumPath(filePath), err)
		return true
	}
	return strings.TrimSpace(string(stored)) != md5
}

func writeChecksum(md5, filePath string) error {
	return os.WriteFile(checksumPath(filePath), []byte(md5), 0644)
}
