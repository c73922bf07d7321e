package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plexstream/server/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*ClientCtx, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := &config.Stream{
		FallbackDuration: 600,
		Plex: config.Plex{
			BaseURL: srv.URL,
			Token:   "secret",
			Timeout: 5 * time.Second,
		},
	}

	return New(conf), srv
}

func metadataResponse(duration float64, partKey string) []byte {
	payload := map[string]interface{}{
		"MediaContainer": map[string]interface{}{
			"Metadata": []map[string]interface{}{{
				"ratingKey": "42",
				"title":     "Some Movie",
				"thumb":     "/library/metadata/42/thumb/1",
				"art":       "/library/metadata/42/art/1",
				"duration":  duration,
				"Media": []map[string]interface{}{{
					"duration": duration,
					"Part": []map[string]interface{}{{
						"key":      partKey,
						"duration": duration,
					}},
				}},
			}},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestGetMetadata(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/library/metadata/42", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Plex-Token"))
		_, _ = w.Write(metadataResponse(7200000, "/library/parts/1/file.mkv"))
	}))

	metadata, err := client.GetMetadata(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "Some Movie", metadata.Title)
	require.Equal(t, float64(7200000), metadata.Duration)
}

func TestGetMetadata_NotFound(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetMetadata(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDurationSeconds(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(metadataResponse(10000, "/parts/1"))
	}))

	seconds, err := client.DurationSeconds(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, float64(10), seconds)
}

func TestDurationSeconds_FallbackWhenAbsent(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(metadataResponse(0, "/parts/1"))
	}))

	seconds, err := client.DurationSeconds(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, float64(600), seconds)
}

func TestSourceURL_AppendsTokenAndCaches(t *testing.T) {
	var lookups int32
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&lookups, 1)
		_, _ = w.Write(metadataResponse(1000, "/library/parts/1/file.mkv"))
	}))

	url, err := client.SourceURL(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%s/library/parts/1/file.mkv?X-Plex-Token=secret", srv.URL), url)

	// second resolution must come from the cache
	again, err := client.SourceURL(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, url, again)
	require.EqualValues(t, 1, atomic.LoadInt32(&lookups))
}

func TestSourceURL_ConcurrentResolutionsCollapse(t *testing.T) {
	var lookups int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&lookups, 1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(metadataResponse(1000, "/parts/1"))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.SourceURL(context.Background(), "42")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&lookups))
}

func TestSourceURL_AbsoluteKeyKeepsHost(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(metadataResponse(1000, "https://cdn.example.com/stream.mkv?X-Plex-Token=already"))
	}))

	url, err := client.SourceURL(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/stream.mkv?X-Plex-Token=already", url)
}

func TestArtwork(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/library/metadata/42/thumb/1" {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpegdata"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	resp, err := client.Artwork(context.Background(), "/library/metadata/42/thumb/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	_, err = client.Artwork(context.Background(), "/library/metadata/42/thumb/2")
	require.Error(t, err)
}
