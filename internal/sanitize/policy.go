// Package sanitize applies header policies to upstream responses so pages can
// be embedded cross-origin.
//
// A Policy is a static table keyed by lower-case header name. Policies are
// built at package init and only read afterwards, so they are safe to share
// between concurrent requests.
package sanitize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"frame-proxy-go/internal/model"
)

// Action selects what a Rule does with a header.
type Action int

const (
	// Pass forwards the header unchanged.
	Pass Action = iota
	// Drop removes the header.
	Drop
	// Rewrite replaces the header values with the result of Rule.Rewrite.
	Rewrite
)

func (a Action) String() string {
	switch a {
	case Drop:
		return "drop"
	case Rewrite:
		return "rewrite"
	default:
		return "pass"
	}
}

// RewriteFunc maps the values of one header. Returning no values removes the
// header. On error the caller keeps the original values.
type RewriteFunc func(values []string, target *url.URL) ([]string, error)

// Rule is one entry of a Policy.
type Rule struct {
	Action  Action
	Rewrite RewriteFunc
}

// Policy maps lower-case header names to rules. Names absent from the table pass.
type Policy map[string]Rule

// Default is applied to successful upstream responses. Upstream CORS headers
// are dropped; the proxy's own CORS middleware sets them for the caller.
var Default = Policy{
	"content-encoding":        {Action: Drop},
	"transfer-encoding":       {Action: Drop},
	"connection":              {Action: Drop},
	"content-length":          {Action: Drop},
	"x-frame-options":         {Action: Drop},
	"content-security-policy": {Action: Rewrite, Rewrite: rewriteCSP},
	"location":                {Action: Rewrite, Rewrite: rewriteLocation},

	"access-control-allow-origin":      {Action: Drop},
	"access-control-allow-credentials": {Action: Drop},
	"access-control-allow-methods":     {Action: Drop},
	"access-control-allow-headers":     {Action: Drop},
	"access-control-expose-headers":    {Action: Drop},
	"access-control-max-age":           {Action: Drop},
}

// UpstreamError is applied to non-2xx, non-redirect upstream responses.
var UpstreamError = Default.With("content-security-policy", Rule{Action: Drop})

// Snapshot is applied to responses carrying a headless browser snapshot.
var Snapshot = Policy{
	"x-frame-options":         {Action: Drop},
	"content-security-policy": {Action: Drop},
	"content-length":          {Action: Drop},
}

// With returns a copy of p with name set to r.
func (p Policy) With(name string, r Rule) Policy {
	out := make(Policy, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[strings.ToLower(name)] = r
	return out
}

// Apply returns the header set to send to the caller. It never fails as a
// whole: a header whose rewrite fails is passed through unchanged and the
// failure is reported in the returned error.
func (p Policy) Apply(h model.Header, target *url.URL) (model.Header, error) {
	var (
		out  model.Header
		errs []error
	)

	for _, f := range h.Fields() {
		rule, ok := p[strings.ToLower(f.Name)]
		if !ok {
			rule = Rule{Action: Pass}
		}

		switch rule.Action {
		case Drop:
			continue
		case Rewrite:
			vals, err := applyRewrite(rule.Rewrite, f.Values, target)
			if err != nil {
				errs = append(errs, fmt.Errorf("header %s: %w", f.Name, err))
				out.Set(f.Name, f.Values...)
				continue
			}
			out.Set(f.Name, vals...)
		default:
			out.Set(f.Name, f.Values...)
		}
	}

	return out, errors.Join(errs...)
}

func applyRewrite(fn RewriteFunc, values []string, target *url.URL) (vals []string, err error) {
	if fn == nil {
		return values, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewrite panic: %v", r)
		}
	}()
	return fn(values, target)
}
