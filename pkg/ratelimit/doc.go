// Package ratelimit paces requests to Mastodon instances and interprets the
// quota headers they return.
//
// Two concerns live here:
//
// Client-side pacing. New returns a Limiter backed by golang.org/x/time/rate
// that each pagination loop waits on before every timeline request, so a
// single crawler never exceeds requests_per_minute against one instance.
// A zero rate yields Unlimited.
//
// Server-declared quota. Paginated responses carry X-RateLimit-Remaining
// and X-RateLimit-Reset. ParseHeaders reads them and ResetDelay computes how
// long a loop sleeps after a 429: the time left until reset plus one second.
//
//	limiter := ratelimit.New(cfg.Fetch.RequestsPerMinute, cfg.Fetch.Burst)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//
//	state, err := ratelimit.ParseHeaders(resp.Header)
//	delay := ratelimit.ResetDelay(state.Reset, time.Now())
package ratelimit
