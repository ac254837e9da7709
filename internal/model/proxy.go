// Package model defines shared types for the proxy.
package model

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Routes that re-enter the proxy.
const (
	ProxyPath    = "/proxy"
	HeadlessPath = "/proxy-headless"
)

var (
	// ErrMissingTarget is returned when the url query parameter is absent or empty.
	ErrMissingTarget = errors.New("missing target URL parameter")
	// ErrInvalidTarget is returned when the target is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid target URL")
)

// ProxyRequest represents a caller request for a target page.
type ProxyRequest struct {
	Ctx    context.Context
	Target *url.URL
	Header http.Header
	// Host is the authority the caller used to reach the proxy.
	Host string
	// ProxyBase is scheme://host of the proxy as seen by the caller.
	ProxyBase string
}

// UpstreamResponse is the decoded response of a single outbound fetch.
type UpstreamResponse struct {
	StatusCode int
	Status     string
	Header     Header
	Body       []byte
}

// RewrittenResponse is the final response written once to the caller.
type RewrittenResponse struct {
	StatusCode int
	Header     Header
	Body       string
	// Redirect, when set, is a proxy-relative location the caller should be sent to
	// instead of Body.
	Redirect string
}

// ParseTarget validates the raw url parameter. Only absolute http and https
// URLs with a host are accepted.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingTarget
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrInvalidTarget
	}
	if u.Host == "" {
		return nil, ErrInvalidTarget
	}
	return u, nil
}

// ProxyLink builds the self-referential URL that fetches target through the
// proxy. base may be empty to produce a path-only link.
func ProxyLink(base, target string) string {
	return strings.TrimSuffix(base, "/") + ProxyPath + "?url=" + url.QueryEscape(target)
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
