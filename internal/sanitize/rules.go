package sanitize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"frame-proxy-go/internal/model"
)

var errNoTarget = errors.New("no target URL to resolve against")

// StripFrameAncestors removes every frame-ancestors directive from a CSP
// value. Empty directives are dropped; the result is "" when nothing remains.
func StripFrameAncestors(csp string) string {
	var kept []string
	for _, d := range strings.Split(csp, ";") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if strings.EqualFold(strings.Fields(d)[0], "frame-ancestors") {
			continue
		}
		kept = append(kept, d)
	}
	return strings.Join(kept, "; ")
}

func rewriteCSP(values []string, _ *url.URL) ([]string, error) {
	var out []string
	for _, v := range values {
		if csp := StripFrameAncestors(v); csp != "" {
			out = append(out, csp)
		}
	}
	return out, nil
}

// ProxyLocation resolves a redirect location against target and returns the
// proxy-relative path that fetches it through the proxy.
func ProxyLocation(location string, target *url.URL) (string, error) {
	if target == nil {
		return "", errNoTarget
	}
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	return model.ProxyLink("", target.ResolveReference(ref).String()), nil
}

func rewriteLocation(values []string, target *url.URL) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		loc, err := ProxyLocation(v, target)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}
