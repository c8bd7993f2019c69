// Package discovery lists candidate instances from the instances.social
// directory.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"mastodb/pkg/config"
	errs "mastodb/pkg/errors"
	"mastodb/pkg/logger"
	"mastodb/pkg/models"
	"mastodb/pkg/retry"
)

// TokenURL is where operators create a directory API token.
const TokenURL = "https://instances.social/api/token"

// Client queries the instance directory.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	userAgent  string
	retry      *retry.Config
	logger     logger.Logger
}

// NewClient creates a directory client. token may be empty, in which case
// List fails with an auth error.
func NewClient(cfg config.DiscoveryConfig, token, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	rc := retry.DefaultConfig()
	rc.Logger = log

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   cfg.Endpoint,
		token:      token,
		userAgent:  userAgent,
		retry:      rc,
		logger:     log,
	}
}

// SetRetryConfig replaces the retry policy for directory requests.
func (c *Client) SetRetryConfig(cfg *retry.Config) {
	c.retry = cfg
}

// List fetches the candidates matching params. Transient failures are
// retried; a rejected token is not.
func (c *Client) List(ctx context.Context, params url.Values) ([]models.Candidate, error) {
	if c.token == "" {
		return nil, errs.New(errs.ErrorTypeAuth, "", "a directory API token is required; create one at "+TokenURL)
	}

	return retry.DoWithResult(ctx, func(ctx context.Context) ([]models.Candidate, error) {
		return c.list(ctx, params)
	}, c.retry)
}

func (c *Client) list(ctx context.Context, params url.Values) ([]models.Candidate, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, "", "invalid discovery endpoint", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, "", "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.DebugWithFields("listing instances", map[string]interface{}{
		"endpoint": c.endpoint,
		"count":    params.Get("count"),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, u.Host, "directory request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, u.Host, "failed to read directory response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(u.Host, resp.StatusCode)
	}

	var listing struct {
		Instances []instance `json:"instances"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeProtocol, u.Host, "unparseable directory response", err)
	}

	candidates := make([]models.Candidate, 0, len(listing.Instances))
	for _, inst := range listing.Instances {
		if inst.Name == "" {
			continue
		}
		var languages []string
		if inst.Info != nil {
			languages = inst.Info.Languages
		}
		candidates = append(candidates, models.Candidate{
			Name:      inst.Name,
			Languages: languages,
			ObsScore:  inst.ObsScore,
			Statuses:  int64(inst.Statuses),
		})
	}

	c.logger.InfoWithFields("Instances listed", map[string]interface{}{
		"candidates": len(candidates),
	})
	return candidates, nil
}

func statusError(host string, code int) error {
	e := &errs.Error{Domain: host, Code: code, Message: http.StatusText(code)}
	switch {
	case code == http.StatusBadRequest, code == http.StatusUnauthorized:
		e.Type = errs.ErrorTypeAuth
		e.Message = "probably invalid token; create one at " + TokenURL
	case code == http.StatusTooManyRequests:
		e.Type = errs.ErrorTypeRateLimit
	case errs.IsFatalStatusCode(code):
		e.Type = errs.ErrorTypeFatal
	case code >= 500:
		e.Type = errs.ErrorTypeServerError
	default:
		e.Type = errs.ErrorTypeProtocol
	}
	return e
}

type instance struct {
	Name string `json:"name"`
	Info *struct {
		Languages []string `json:"languages"`
	} `json:"info"`
	ObsScore *float64 `json:"obs_score"`
	Statuses flexInt  `json:"statuses"`
}

// flexInt accepts a JSON number or a numeric string; the directory sends
// counters as strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("invalid count %q: %w", b, err)
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}
