package utils

import (
	"io"

	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// CloseOrWarn closes c and logs a failure instead of returning it.
func CloseOrWarn(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warnf("Failed to close: %v", err)
	}
}
