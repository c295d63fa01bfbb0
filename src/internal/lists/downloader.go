package lists

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/hashing"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/utils"
)

// DownloadTimeout bounds a single list download.
const DownloadTimeout = 60 * time.Second

// maxListSize caps a downloaded list; hosts files beyond this are rejected.
const maxListSize = 64 << 20

var httpClient = &http.Client{Timeout: DownloadTimeout}

// DownloadList downloads a single list from its URL.
// Returns (changed, error) where changed indicates if the file was updated.
func DownloadList(ctx context.Context, list *config.ListSource, cfg *config.Config) (bool, error) {
	if list.URL == "" {
		return false, errors.NewListError(fmt.Sprintf("list \"%s\" has no URL configured", list.ListName), nil)
	}

	if err := utils.EnsureDir(cfg.GetAbsDownloadedListsDir()); err != nil {
		return false, errors.NewListError("failed to create lists directory", err)
	}

	log.Infof("Downloading list \"%s\" from URL: %s", list.ListName, list.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, list.URL, nil)
	if err != nil {
		return false, errors.NewListError(fmt.Sprintf("invalid URL for list \"%s\"", list.ListName), err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, errors.NewListError(fmt.Sprintf("failed to download list \"%s\"", list.ListName), err)
	}
	defer utils.CloseOrWarn(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return false, errors.NewListError(fmt.Sprintf("failed to download list \"%s\": %s", list.ListName, resp.Status), nil)
	}

	body := hashing.NewMD5Reader(io.LimitReader(resp.Body, maxListSize+1))
	content, err := io.ReadAll(body)
	if err != nil {
		return false, errors.NewListError(fmt.Sprintf("failed to read response for list \"%s\"", list.ListName), err)
	}
	if body.BytesRead() > maxListSize {
		return false, errors.NewListError(fmt.Sprintf("list \"%s\" exceeds %d bytes", list.ListName, maxListSize), nil)
	}

	filePath, err := list.GetAbsolutePath(cfg)
	if err != nil {
		return false, err
	}

	if !isFileChanged(body.Checksum(), filePath) {
		log.Infof("List \"%s\" is not changed, skipping write to disk", list.ListName)
		return false, nil
	}

	// Write through a temp file so a running service never reads a partial list
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return false, errors.NewListError(fmt.Sprintf("failed to write list file to %s", tmpPath), err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return false, errors.NewListError(fmt.Sprintf("failed to move list file to %s", filePath), err)
	}
	if err := writeChecksum(body.Checksum(), filePath); err != nil {
		return false, errors.NewListError("failed to write list checksum", err)
	}

	log.Infof("List \"%s\" downloaded successfully (%d bytes)", list.ListName, body.BytesRead())
	return true, nil
}

// DownloadLists downloads every URL list. A failing list does not stop the
// others; the failures are reported together.
func DownloadLists(ctx context.Context, cfg *config.Config) (int, error) {
	changed := 0
	var failed []string

	for _, list := range cfg.Lists {
		if list.URL == "" {
			continue
		}

		ok, err := DownloadList(ctx, list, cfg)
		if err != nil {
			log.Errorf("Error downloading list \"%s\": %v", list.ListName, err)
			failed = append(failed, list.ListName)
			continue
		}
		if ok {
			changed++
		}
	}

	if len(failed) > 0 {
		return changed, errors.NewListError(fmt.Sprintf("failed to download lists: %s", strings.Join(failed, ", ")), nil)
	}
	return changed, nil
}
