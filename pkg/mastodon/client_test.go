package mastodon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/logger"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, string, *logger.TestLogger) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logger.NewTestLogger()
	c := NewClient(5*time.Second, "mastodb-test", log)
	c.SetScheme("http")
	return c, strings.TrimPrefix(srv.URL, "http://"), log
}

func TestPublicTimeline(t *testing.T) {
	var gotQuery url.Values
	var gotAgent string
	c, domain, log := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PublicTimelinePath, r.URL.Path)
		gotQuery = r.URL.Query()
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("X-RateLimit-Remaining", "299")
		fmt.Fprint(w, `[{"id":"2"},{"id":"1"}]`)
	})

	params := url.Values{"local": {"true"}, "limit": {"40"}, ParamMaxID: {"100"}}
	page, err := c.PublicTimeline(context.Background(), domain, params)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "OK", page.Reason)
	assert.Equal(t, domain, page.Domain)
	assert.Equal(t, "299", page.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "100", gotQuery.Get("max_id"))
	assert.Equal(t, "true", gotQuery.Get("local"))
	assert.Equal(t, "mastodb-test", gotAgent)

	items, err := DecodeItems(page.Body)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	assert.True(t, log.HasMessage("HTTP request completed"))
}

func TestPublicTimelineReturnsErrorStatuses(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	page, err := c.PublicTimeline(context.Background(), domain, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, page.StatusCode)
	assert.Equal(t, "Service Unavailable", page.Reason)
}

func TestInstanceInfo(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, InstancePath, r.URL.Path)
		fmt.Fprint(w, `{"uri":"a.social","title":"A","languages":["en","de"],"stats":{"user_count":10,"status_count":500}}`)
	})

	info, err := c.InstanceInfo(context.Background(), domain)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "de"}, info.Languages)
	assert.Equal(t, int64(500), info.Stats.StatusCount)
}

func TestInstanceInfoErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    errs.ErrorType
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, errs.ErrorTypeNotFound},
		{"forbidden", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }, errs.ErrorTypeProtocol},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, errs.ErrorTypeServerError},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, errs.ErrorTypeRateLimit},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "<html>") }, errs.ErrorTypeProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, domain, _ := newTestServer(t, tt.handler)
			_, err := c.InstanceInfo(context.Background(), domain)
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestLatestStatus(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"id":"110","language":"en"}]`)
	})

	item, err := c.LatestStatus(context.Background(), domain)
	require.NoError(t, err)
	id, ok := item.String("id")
	assert.True(t, ok)
	assert.Equal(t, "110", id)
}

func TestLatestStatusEmptyTimeline(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	_, err := c.LatestStatus(context.Background(), domain)
	assert.Equal(t, errs.ErrorTypeDataShape, errs.TypeOf(err))
}

func TestTransportConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	domain := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	log := logger.NewTestLogger()
	c := NewClient(time.Second, "mastodb-test", log)
	c.SetScheme("http")

	_, err := c.PublicTimeline(context.Background(), domain, nil)
	require.Error(t, err)

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errs.ErrorTypeNetwork, e.Type)
	assert.Equal(t, TransportConnectionRefused, e.Message)
	assert.True(t, log.HasMessage("HTTP request failed"))
}

func TestTransportTooManyRedirects(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, PublicTimelinePath, http.StatusFound)
	})

	_, err := c.PublicTimeline(context.Background(), domain, nil)
	require.Error(t, err)
	assert.Equal(t, TransportTooManyRedirects, TransportCategory(err))
}

func TestCancelledRequestReturnsContextError(t *testing.T) {
	c, domain, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PublicTimeline(ctx, domain, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, errs.ErrorTypeUnknown, errs.TypeOf(err))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestTransportCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"dns", &url.Error{Op: "Get", URL: "https://x", Err: &net.DNSError{Err: "no such host", Name: "x"}}, TransportDNS},
		{"timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutError{}}, TransportTimeout},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), TransportDisconnected},
		{"unknown", errors.New("boom"), TransportOther},
		{"redirects", &url.Error{Op: "Get", URL: "https://x", Err: ErrTooManyRedirects}, TransportTooManyRedirects},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TransportCategory(tt.err))
		})
	}
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "statuses", body: `[{"id":"2"},{"id":"1"}]`, want: 2},
		{name: "empty page", body: `[]`, want: 0},
		{name: "null body", body: `null`, wantErr: true},
		{name: "null item", body: `[{"id":"2"},null]`, wantErr: true},
		{name: "object body", body: `{"error":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := DecodeItems([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, items)
			assert.Len(t, items, tt.want)
		})
	}
}
