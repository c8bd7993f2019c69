package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastodb/pkg/config"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/logger"
	"mastodb/pkg/retry"
)

func newClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.DiscoveryConfig{Endpoint: srv.URL + "/api/1.0/instances/list", Timeout: 5 * time.Second},
		token, "mastodb-test", logger.NewNopLogger())
	c.SetRetryConfig(&retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{},
	})
	return c
}

const listing = `{"instances":[
	{"name":"a.social","info":{"languages":["en","de"]},"obs_score":87.5,"statuses":"12345"},
	{"name":"b.social","info":null,"obs_score":null,"statuses":42},
	{"name":"","statuses":"1"}
]}`

func TestList(t *testing.T) {
	var gotAuth string
	var gotQuery url.Values
	c := newClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		fmt.Fprint(w, listing)
	})

	params := url.Values{"count": {"100"}, "include_dead": {"false"}}
	candidates, err := c.List(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "100", gotQuery.Get("count"))
	assert.Equal(t, "false", gotQuery.Get("include_dead"))

	require.Len(t, candidates, 2)
	assert.Equal(t, "a.social", candidates[0].Name)
	assert.Equal(t, []string{"en", "de"}, candidates[0].Languages)
	require.NotNil(t, candidates[0].ObsScore)
	assert.Equal(t, 87.5, *candidates[0].ObsScore)
	assert.Equal(t, int64(12345), candidates[0].Statuses)

	assert.Nil(t, candidates[1].Languages)
	assert.Nil(t, candidates[1].ObsScore)
	assert.Equal(t, int64(42), candidates[1].Statuses)
}

func TestListRequiresToken(t *testing.T) {
	var calls int32
	c := newClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.List(context.Background(), url.Values{})
	assert.Equal(t, errs.ErrorTypeAuth, errs.TypeOf(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestListInvalidTokenIsNotRetried(t *testing.T) {
	var calls int32
	c := newClient(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.List(context.Background(), url.Values{})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeAuth, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "probably invalid token")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, listing)
	})

	candidates, err := c.List(context.Background(), url.Values{})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListGivesUpAfterMaxAttempts(t *testing.T) {
	c := newClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.List(context.Background(), url.Values{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
}

func TestListUnparseableBody(t *testing.T) {
	c := newClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>")
	})

	_, err := c.List(context.Background(), url.Values{})
	assert.Equal(t, errs.ErrorTypeProtocol, errs.TypeOf(err))
}
