package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnews/internal/config"
	"calnews/internal/metrics"
	"calnews/internal/model"
	"calnews/internal/pipeline"
)

type fakeNewsletter struct {
	buckets     model.Buckets
	err         error
	runErr      error
	bucketCalls atomic.Int32
	runCalls    atomic.Int32
}

func (f *fakeNewsletter) Buckets(context.Context) (model.Buckets, error) {
	f.bucketCalls.Add(1)
	return f.buckets, f.err
}

func (f *fakeNewsletter) Prepare(context.Context) (pipeline.Result, error) {
	if f.err != nil {
		return pipeline.Result{}, f.err
	}
	return pipeline.Result{RunID: "prep", Buckets: f.buckets, HTML: `<div data-ready="true">Hackathon</div>`}, nil
}

func (f *fakeNewsletter) Run(context.Context) (pipeline.Result, error) {
	f.runCalls.Add(1)
	res := pipeline.Result{RunID: "run-1", Buckets: f.buckets}
	if f.runErr != nil {
		return res, f.runErr
	}
	res.Sent = true
	return res, nil
}

func sampleBuckets() model.Buckets {
	d := time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
	return model.Buckets{
		Before:  []model.Event{{Date: d, Title: "Hackathon", Link: "https://events.example.edu/a"}},
		Skipped: []error{errors.New("bad item")},
	}
}

func newTestServer(t *testing.T, nl Newsletter, auth *config.BasicAuthConfig) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.BasicAuth = auth
	srv := httptest.NewServer(NewServer(cfg, nl, metrics.New()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeNewsletter{}, nil)
	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestEventsIsCached(t *testing.T) {
	nl := &fakeNewsletter{buckets: sampleBuckets()}
	srv := newTestServer(t, nl, nil)

	resp, body := get(t, srv.URL+"/api/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got eventsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Before, 1)
	assert.Equal(t, "Hackathon", got.Before[0].Title)
	assert.Empty(t, got.After)
	assert.NotNil(t, got.After)
	assert.Equal(t, 1, got.Skipped)

	get(t, srv.URL+"/api/events")
	assert.Equal(t, int32(1), nl.bucketCalls.Load())
}

func TestEventsFetchFailure(t *testing.T) {
	nl := &fakeNewsletter{err: &pipeline.FeedFetchError{URL: "https://x", Err: errors.New("down")}}
	srv := newTestServer(t, nl, nil)

	resp, body := get(t, srv.URL+"/api/events")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "failed to load events")
}

func TestPreview(t *testing.T) {
	srv := newTestServer(t, &fakeNewsletter{buckets: sampleBuckets()}, nil)

	resp, body := get(t, srv.URL+"/preview")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Hackathon")
}

func TestPreviewPNG(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	srv := httptest.NewServer(NewServer(cfg, &fakeNewsletter{}, nil).Handler())
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/preview.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(PreviewPNGPath(cfg.CacheDir), png, 0o644))
	resp, body := get(t, srv.URL+"/preview.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(png), body)

	resp, _ = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSend(t *testing.T) {
	tests := []struct {
		name     string
		runErr   error
		wantCode int
		wantSent bool
	}{
		{"success", nil, http.StatusOK, true},
		{"nothing to send", pipeline.ErrNothingToSend, http.StatusOK, false},
		{"in progress", pipeline.ErrRunInProgress, http.StatusConflict, false},
		{"mail failure", &pipeline.MailDeliveryError{Recipients: []string{"a@b.c"}, Err: errors.New("554")}, http.StatusBadGateway, false},
		{"render failure", &pipeline.RenderError{Err: errors.New("boom")}, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nl := &fakeNewsletter{buckets: sampleBuckets(), runErr: tt.runErr}
			srv := newTestServer(t, nl, nil)

			resp, err := http.Post(srv.URL+"/api/send", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, int32(1), nl.runCalls.Load())
			if tt.wantCode == http.StatusOK {
				var got sendResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, tt.wantSent, got.Sent)
				assert.Equal(t, "run-1", got.RunID)
				assert.Equal(t, 1, got.Before)
			}
		})
	}
}

func TestSendRequiresPost(t *testing.T) {
	nl := &fakeNewsletter{}
	srv := newTestServer(t, nl, nil)

	resp, _ := get(t, srv.URL+"/api/send")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, int32(0), nl.runCalls.Load())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeNewsletter{}, nil)
	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestBasicAuth(t *testing.T) {
	srv := newTestServer(t, &fakeNewsletter{buckets: sampleBuckets()}, &config.BasicAuthConfig{Username: "admin", Password: "s3cret"})

	resp, _ := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/api/events")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	srv := newTestServer(t, &fakeNewsletter{}, &config.BasicAuthConfig{Username: "admin"})
	resp, _ := get(t, srv.URL+"/api/events")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
