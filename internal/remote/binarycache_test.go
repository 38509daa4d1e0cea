package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBinaryCache_UpdateAndLookup(t *testing.T) {
	payload := []byte("MZ fake sysmon binary")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	cache := NewLocalBinaryCache(t.TempDir(), srv.URL, 10*time.Second)
	require.True(t, cache.IsAvailable())
	assert.False(t, cache.IsCached("15.15"))

	info, err := cache.UpdateCache(context.Background(), "15.15")
	require.NoError(t, err)
	assert.Equal(t, "15.15", info.Version)
	assert.Equal(t, int64(len(payload)), info.SizeBytes)
	assert.Equal(t, cache.CachePath("15.15"), info.Path)

	assert.True(t, cache.IsCached("15.15"))
	assert.False(t, cache.IsCached("15.0"))

	got, err := cache.GetCacheInfo("15.15")
	require.NoError(t, err)
	assert.Equal(t, info.Version, got.Version)
	assert.Equal(t, info.SizeBytes, got.SizeBytes)
}

func TestLocalBinaryCache_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cache := NewLocalBinaryCache(t.TempDir(), srv.URL, 10*time.Second)
	_, err := cache.UpdateCache(context.Background(), "15.15")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.False(t, cache.IsCached("15.15"))
}

func TestLocalBinaryCache_GetCacheInfo_NotCached(t *testing.T) {
	cache := NewLocalBinaryCache(t.TempDir(), "http://unused", time.Second)
	_, err := cache.GetCacheInfo("15.15")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestLocalBinaryCache_Unconfigured(t *testing.T) {
	cache := NewLocalBinaryCache("", "http://unused", time.Second)
	assert.False(t, cache.IsAvailable())
	_, err := cache.UpdateCache(context.Background(), "15.15")
	require.Error(t, err)
}
