package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrNotCached is returned when no binary is cached for the requested version.
var ErrNotCached = errors.New("binary not cached")

// LocalBinaryCache keeps Sysmon binaries on the local filesystem, one
// subdirectory per version, with a metadata sidecar file.
type LocalBinaryCache struct {
	dir         string
	downloadURL string
	httpClient  *http.Client
}

// NewLocalBinaryCache creates a filesystem-backed binary cache.
func NewLocalBinaryCache(dir, downloadURL string, timeout time.Duration) *LocalBinaryCache {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalBinaryCache{
		dir:         dir,
		downloadURL: downloadURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *LocalBinaryCache) IsAvailable() bool {
	return c.dir != ""
}

func (c *LocalBinaryCache) versionDir(version string) string {
	if version == "" {
		version = "latest"
	}
	return filepath.Join(c.dir, version)
}

// CachePath returns where the binary for a version lives or would live.
func (c *LocalBinaryCache) CachePath(version string) string {
	return filepath.Join(c.versionDir(version), "Sysmon.exe")
}

func (c *LocalBinaryCache) infoPath(version string) string {
	return filepath.Join(c.versionDir(version), "cache.json")
}

// IsCached reports whether the binary and its metadata are present.
func (c *LocalBinaryCache) IsCached(version string) bool {
	if _, err := os.Stat(c.CachePath(version)); err != nil {
		return false
	}
	_, err := os.Stat(c.infoPath(version))
	return err == nil
}

// GetCacheInfo reads the metadata sidecar for a cached version.
func (c *LocalBinaryCache) GetCacheInfo(version string) (*CacheInfo, error) {
	data, err := os.ReadFile(c.infoPath(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("failed to read cache info: %w", err)
	}
	var info CacheInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse cache info: %w", err)
	}
	return &info, nil
}

// UpdateCache downloads the binary for a version and writes it with its
// metadata. The download is written to a temp file first so a failed
// transfer never leaves a half-written binary behind.
func (c *LocalBinaryCache) UpdateCache(ctx context.Context, version string) (*CacheInfo, error) {
	if !c.IsAvailable() {
		return nil, errors.New("binary cache not configured")
	}
	dir := c.versionDir(version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download binary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binary download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "sysmon-*.partial")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write binary: %w", err)
	}

	target := c.CachePath(version)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("failed to move binary into place: %w", err)
	}

	info := &CacheInfo{
		Version:      version,
		Path:         target,
		SizeBytes:    size,
		DownloadedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache info: %w", err)
	}
	if err := os.WriteFile(c.infoPath(version), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write cache info: %w", err)
	}
	return info, nil
}
