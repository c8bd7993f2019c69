package mastodon

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Outcome
	}{
		{200, OutcomeOK},
		{201, OutcomeAnomaly},
		{302, OutcomeAnomaly},
		{400, OutcomeClientError},
		{404, OutcomeClientError},
		{429, OutcomeRateLimited},
		{500, OutcomeServerError},
		{599, OutcomeServerError},
		{199, OutcomeFatal},
		{600, OutcomeFatal},
		{0, OutcomeFatal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestClassifyPage(t *testing.T) {
	now := time.Date(2024, 5, 3, 21, 0, 0, 0, time.UTC)
	header := func(kv ...string) http.Header {
		h := http.Header{}
		for i := 0; i+1 < len(kv); i += 2 {
			h.Set(kv[i], kv[i+1])
		}
		return h
	}

	t.Run("ok with quota", func(t *testing.T) {
		v := ClassifyPage(200, header("X-RateLimit-Remaining", "12", "X-RateLimit-Limit", "300"), now)
		assert.Equal(t, OutcomeOK, v.Outcome)
		assert.Equal(t, 12, v.Quota.Remaining)
		assert.Equal(t, 300, v.Quota.Limit)
	})

	t.Run("ok without quota header is anomaly", func(t *testing.T) {
		v := ClassifyPage(200, header(), now)
		assert.Equal(t, OutcomeAnomaly, v.Outcome)
		assert.NotEmpty(t, v.Detail)
	})

	t.Run("rate limited sleeps until reset plus one second", func(t *testing.T) {
		reset := now.Add(5 * time.Second).Format("2006-01-02T15:04:05.000Z")
		v := ClassifyPage(429, header("X-RateLimit-Reset", reset), now)
		assert.Equal(t, OutcomeRateLimited, v.Outcome)
		assert.Equal(t, 6*time.Second, v.Delay)
	})

	t.Run("rate limited with past reset", func(t *testing.T) {
		reset := now.Add(-time.Minute).Format(time.RFC3339)
		v := ClassifyPage(429, header("X-RateLimit-Reset", reset), now)
		assert.Equal(t, OutcomeRateLimited, v.Outcome)
		assert.Equal(t, time.Second, v.Delay)
	})

	t.Run("rate limited without reset is anomaly", func(t *testing.T) {
		v := ClassifyPage(429, header(), now)
		assert.Equal(t, OutcomeAnomaly, v.Outcome)
	})

	t.Run("rate limited with garbage reset is anomaly", func(t *testing.T) {
		v := ClassifyPage(429, header("X-RateLimit-Reset", "soon"), now)
		assert.Equal(t, OutcomeAnomaly, v.Outcome)
	})

	t.Run("server error", func(t *testing.T) {
		assert.Equal(t, OutcomeServerError, ClassifyPage(502, header(), now).Outcome)
	})

	t.Run("fatal", func(t *testing.T) {
		assert.Equal(t, OutcomeFatal, ClassifyPage(700, header(), now).Outcome)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
