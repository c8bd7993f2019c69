package mastodon

import (
	"fmt"
	"net/http"
	"time"

	errs "mastodb/pkg/errors"
	"mastodb/pkg/ratelimit"
)

// Outcome is the classification of one response.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeClientError
	OutcomeRateLimited
	OutcomeServerError
	// OutcomeAnomaly is a status inside the HTTP range the crawler does not
	// expect, or a healthy response missing its rate-limit headers.
	OutcomeAnomaly
	// OutcomeFatal is a status outside 200-599. It aborts the run.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeClientError:
		return "client_error"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeAnomaly:
		return "anomaly"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ClassifyStatus classifies a status code on its own.
func ClassifyStatus(code int) Outcome {
	switch {
	case code == http.StatusOK:
		return OutcomeOK
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case code >= 400 && code <= 499:
		return OutcomeClientError
	case code >= 500 && code <= 599:
		return OutcomeServerError
	case errs.IsFatalStatusCode(code):
		return OutcomeFatal
	default:
		return OutcomeAnomaly
	}
}

// Verdict is the classification of a paginated timeline response.
type Verdict struct {
	Outcome Outcome
	// Delay is how long to sleep before retrying a rate-limited request.
	Delay time.Duration
	Quota ratelimit.State
	// Detail explains an anomaly.
	Detail string
}

// ClassifyPage classifies a timeline response including its rate-limit
// headers. now is the instant the delay for a 429 is measured from.
func ClassifyPage(code int, h http.Header, now time.Time) Verdict {
	outcome := ClassifyStatus(code)

	switch outcome {
	case OutcomeRateLimited:
		value := h.Get(ratelimit.HeaderReset)
		if value == "" {
			return Verdict{Outcome: OutcomeAnomaly, Detail: "429 without " + ratelimit.HeaderReset}
		}
		reset, err := ratelimit.ParseReset(value)
		if err != nil {
			return Verdict{Outcome: OutcomeAnomaly, Detail: err.Error()}
		}
		return Verdict{Outcome: OutcomeRateLimited, Delay: ratelimit.ResetDelay(reset, now)}

	case OutcomeOK:
		quota, err := ratelimit.ParseHeaders(h)
		if err != nil {
			return Verdict{Outcome: OutcomeAnomaly, Detail: err.Error()}
		}
		return Verdict{Outcome: OutcomeOK, Quota: quota}

	case OutcomeAnomaly:
		return Verdict{Outcome: OutcomeAnomaly, Detail: fmt.Sprintf("unexpected status %d", code)}
	}

	return Verdict{Outcome: outcome}
}

// statusError converts a non-OK single-shot response into a classified error.
func statusError(domain string, code int, reason string) error {
	e := &errs.Error{Domain: domain, Code: code, Message: reason}
	switch ClassifyStatus(code) {
	case OutcomeFatal:
		e.Type = errs.ErrorTypeFatal
		e.Message = "status outside HTTP range: " + reason
	case OutcomeRateLimited:
		e.Type = errs.ErrorTypeRateLimit
	case OutcomeServerError:
		e.Type = errs.ErrorTypeServerError
	case OutcomeClientError:
		if code == http.StatusNotFound {
			e.Type = errs.ErrorTypeNotFound
		} else {
			e.Type = errs.ErrorTypeProtocol
		}
	default:
		e.Type = errs.ErrorTypeProtocol
	}
	return e
}
