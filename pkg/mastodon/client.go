package mastodon

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	errs "mastodb/pkg/errors"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
)

// MaxRedirects is the number of redirects followed before a request fails.
const MaxRedirects = 10

// maxBodySize caps how much of a response body is read.
const maxBodySize = 16 << 20

// ErrTooManyRedirects is returned when a server redirects more than
// MaxRedirects times.
var ErrTooManyRedirects = errors.New("too many redirects")

// Transport failure categories.
const (
	TransportTLS               = "tls"
	TransportTimeout           = "timeout"
	TransportConnectionRefused = "connection_refused"
	TransportTooManyRedirects  = "too_many_redirects"
	TransportDisconnected      = "disconnected"
	TransportDNS               = "dns"
	TransportOther             = "other"
)

// Client talks to the public API of any Mastodon instance.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	scheme     string
	logger     logger.Logger
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		headers: map[string]string{
			"User-Agent": userAgent,
			"Accept":     "application/json",
		},
		scheme: "https",
		logger: log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetScheme overrides the URL scheme, which is https by default.
func (c *Client) SetScheme(scheme string) {
	c.scheme = scheme
}

// PublicTimeline fetches one page of the local public timeline. A non-nil
// Page is returned for every HTTP response regardless of status. Transport
// failures come back as a network *errs.Error whose message is the
// transport category, and cancellation as the context's error.
func (c *Client) PublicTimeline(ctx context.Context, domain string, params url.Values) (*Page, error) {
	return c.get(ctx, domain, PublicTimelineURL(c.scheme, domain, params))
}

// InstanceInfo fetches the instance metadata document.
func (c *Client) InstanceInfo(ctx context.Context, domain string) (*InstanceInfo, error) {
	page, err := c.get(ctx, domain, InstanceURL(c.scheme, domain))
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, statusError(domain, page.StatusCode, page.Reason)
	}

	var info InstanceInfo
	if err := json.Unmarshal(page.Body, &info); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeProtocol, domain, "unparseable instance metadata", err)
	}
	return &info, nil
}

// LatestStatus fetches the newest status of the local public timeline.
func (c *Client) LatestStatus(ctx context.Context, domain string) (models.Item, error) {
	page, err := c.get(ctx, domain, LatestStatusURL(c.scheme, domain))
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, statusError(domain, page.StatusCode, page.Reason)
	}

	items, err := DecodeItems(page.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeProtocol, domain, "unparseable timeline", err)
	}
	if len(items) == 0 {
		return nil, errs.New(errs.ErrorTypeDataShape, domain, "public timeline is empty")
	}
	return items[0], nil
}

func (c *Client) get(ctx context.Context, domain, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, domain, "failed to create request", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    rawURL,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, domain, rawURL, err, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	duration := time.Since(start)
	if err != nil {
		return nil, c.transportError(ctx, domain, rawURL, err, duration)
	}

	logger.LogRequest(c.logger, req.Method, rawURL, resp.StatusCode, duration)

	return &Page{
		Domain:     domain,
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Header:     resp.Header,
		Body:       body,
		Duration:   duration,
	}, nil
}

func (c *Client) transportError(ctx context.Context, domain, rawURL string, err error, duration time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	category := TransportCategory(err)
	c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
		"domain":   domain,
		"url":      rawURL,
		"category": category,
		"error":    err.Error(),
		"duration": duration,
	})
	return errs.Wrap(errs.ErrorTypeNetwork, domain, category, err)
}

// TransportCategory names the kind of transport failure err represents.
func TransportCategory(err error) string {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		dnsErr       *net.DNSError
		netErr       net.Error
	)

	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return TransportTooManyRedirects
	case errors.As(err, &verifyErr), errors.As(err, &recordErr), errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr), errors.As(err, &invalidErr):
		return TransportTLS
	case errors.As(err, &dnsErr):
		return TransportDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return TransportConnectionRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		return TransportTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return TransportDisconnected
	}
	return TransportOther
}

func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if reason := strings.TrimPrefix(resp.Status, prefix); reason != resp.Status && reason != "" {
		return reason
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
