// Package rewrite points absolute references to a target origin back at the
// proxy so follow-up navigation and asset requests also go through it.
//
// The rewrite is a plain text substitution over the whole body. It does not
// parse HTML, CSS or JavaScript, so matching text inside scripts, attributes
// or prose is rewritten as well, and an origin that is a prefix of a longer
// host name (origin.example vs origin.example.net) is rewritten too. This is a
// known limitation, not something to fix with a structural parse.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"frame-proxy-go/internal/model"
)

// DefaultAliases are hosts whose pages routinely link to an origin other
// than the one the caller requested.
var DefaultAliases = []string{"www.reddit.com", "reddit.com"}

var errNoProxyBase = errors.New("proxy base is empty")

// Alias matches absolute http(s) references to one host.
type Alias struct {
	Host    string
	pattern *regexp.Regexp
}

// Rewriter rewrites response bodies. It holds no per-request state and is safe
// for concurrent use.
type Rewriter struct {
	aliases []Alias
}

// New creates a Rewriter for the given alias hosts. Empty entries are ignored.
func New(aliases []string) *Rewriter {
	r := &Rewriter{}
	for _, host := range aliases {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		r.aliases = append(r.aliases, Alias{
			Host:    host,
			pattern: regexp.MustCompile(`https?://` + regexp.QuoteMeta(host) + `\b`),
		})
	}
	return r
}

// Aliases returns the configured alias hosts.
func (r *Rewriter) Aliases() []string {
	out := make([]string, len(r.aliases))
	for i, a := range r.aliases {
		out[i] = a.Host
	}
	return out
}

// Rewrite replaces every occurrence of the target's origin, and of each alias
// origin, with a proxy link under proxyBase. On error the body is returned
// unmodified along with the error.
func (r *Rewriter) Rewrite(body, target, proxyBase string) (string, error) {
	if proxyBase == "" {
		return body, errNoProxyBase
	}
	u, err := url.Parse(target)
	if err != nil {
		return body, fmt.Errorf("parse target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return body, fmt.Errorf("target %q is not absolute", target)
	}

	origin := model.Origin(u)
	out := strings.ReplaceAll(body, origin, model.ProxyLink(proxyBase, origin))

	for _, a := range r.aliases {
		out = a.pattern.ReplaceAllStringFunc(out, func(m string) string {
			return model.ProxyLink(proxyBase, m)
		})
	}
	return out, nil
}
