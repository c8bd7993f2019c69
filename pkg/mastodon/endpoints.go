package mastodon

import (
	"net/url"
)

// API paths used by the crawler.
const (
	InstancePath       = "/api/v1/instance"
	PublicTimelinePath = "/api/v1/timelines/public"
)

// Timeline pagination parameters.
const (
	ParamMaxID = "max_id"
	ParamMinID = "min_id"
	ParamLimit = "limit"
)

func endpoint(scheme, domain, path string, params url.Values) string {
	u := url.URL{Scheme: scheme, Host: domain, Path: path}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// InstanceURL builds the instance metadata URL.
func InstanceURL(scheme, domain string) string {
	return endpoint(scheme, domain, InstancePath, nil)
}

// PublicTimelineURL builds a public timeline URL with params.
func PublicTimelineURL(scheme, domain string, params url.Values) string {
	return endpoint(scheme, domain, PublicTimelinePath, params)
}

// LatestStatusURL builds the single-status probe used when bootstrapping.
func LatestStatusURL(scheme, domain string) string {
	return PublicTimelineURL(scheme, domain, url.Values{ParamLimit: {"1"}})
}
