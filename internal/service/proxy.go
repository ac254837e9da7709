// Package service implements the fetch and render pipelines behind the
// proxy routes.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"frame-proxy-go/internal/client"
	"frame-proxy-go/internal/config"
	"frame-proxy-go/internal/metrics"
	"frame-proxy-go/internal/model"
	"frame-proxy-go/internal/rewrite"
	"frame-proxy-go/internal/sanitize"
)

const (
	defaultAccept         = "*/*"
	defaultAcceptEncoding = "gzip, deflate, br"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// ProxyService fetches a target page once and prepares it for framing.
type ProxyService struct {
	client   *client.UpstreamClient
	rewriter *rewrite.Rewriter
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, rw *rewrite.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		rewriter: rw,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Fetch retrieves pr.Target and returns the response to send to the caller.
//
// A 3xx with a Location becomes a redirect back into the proxy. Any other
// non-2xx is returned with its body untouched. A 2xx body has the target
// origin rewritten to proxy links. Header and rewrite failures never fail
// the request; they are logged and the affected part passes through.
func (s *ProxyService) Fetch(pr *model.ProxyRequest) (*model.RewrittenResponse, error) {
	target := pr.Target.String()
	s.logger.Info("fetching target", "target", target)

	up, err := s.client.Fetch(pr.Ctx, target, s.outboundHeader(pr.Header, target))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	if isRedirect(up.StatusCode) {
		if loc := up.Header.Get("Location"); loc != "" {
			next, err := sanitize.ProxyLocation(loc, pr.Target)
			if err == nil {
				s.logger.Info("upstream redirect", "target", target, "status", up.StatusCode, "location", loc)
				return &model.RewrittenResponse{
					StatusCode: up.StatusCode,
					Header:     s.applyPolicy(sanitize.UpstreamError, up.Header, pr, "Location"),
					Redirect:   next,
				}, nil
			}
			s.logger.Warn("unresolvable redirect location", "target", target, "location", loc, "err", err)
		}
	}

	if up.StatusCode < 200 || up.StatusCode > 299 {
		s.logger.Warn("upstream returned error status", "target", target, "status", up.StatusCode)
		h := s.applyPolicy(sanitize.UpstreamError, up.Header, pr)
		detectContentType(&h, up.Body)
		return &model.RewrittenResponse{
			StatusCode: up.StatusCode,
			Header:     h,
			Body:       string(up.Body),
		}, nil
	}

	body, err := s.rewriter.Rewrite(string(up.Body), target, pr.ProxyBase)
	if err != nil {
		s.logger.Warn("rewrite failed, serving body unmodified", "target", target, "err", err)
		if s.metrics != nil {
			s.metrics.RewriteFailures.Inc()
		}
	}

	h := s.applyPolicy(sanitize.Default, up.Header, pr)
	detectContentType(&h, up.Body)
	return &model.RewrittenResponse{
		StatusCode: up.StatusCode,
		Header:     h,
		Body:       body,
	}, nil
}

// detectContentType fills in Content-Type from the body when upstream sent
// none. Sniffing uses the decoded body before rewriting.
func detectContentType(h *model.Header, body []byte) {
	if h.Has("Content-Type") || len(body) == 0 {
		return
	}
	h.Set("Content-Type", mimetype.Detect(body).String())
}

// applyPolicy sanitizes h for the caller, additionally removing the named
// headers. Rule failures are logged and counted.
func (s *ProxyService) applyPolicy(p sanitize.Policy, h model.Header, pr *model.ProxyRequest, drop ...string) model.Header {
	out, err := p.Apply(h, pr.Target)
	if err != nil {
		s.logger.Warn("header policy failed, passing headers through", "target", pr.Target.String(), "err", err)
		if s.metrics != nil {
			s.metrics.HeaderPolicyFailures.Inc()
		}
	}
	for _, name := range drop {
		out.Del(name)
	}
	return out
}

// outboundHeader builds the exact header set sent upstream. Nothing from the
// caller is forwarded except the negotiated values below; cookies and
// credentials never leave the proxy.
func (s *ProxyService) outboundHeader(in http.Header, target string) http.Header {
	out := make(http.Header)

	ua := in.Get("User-Agent")
	if ua == "" {
		ua = s.cfg.Upstream.UserAgent
	}
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	out.Set("User-Agent", ua)

	accept := in.Get("Accept")
	if accept == "" {
		accept = defaultAccept
	}
	out.Set("Accept", accept)
	out.Set("Accept-Encoding", negotiateEncoding(in.Values("Accept-Encoding")))

	lang := in.Get("Accept-Language")
	if lang == "" {
		lang = defaultAcceptLanguage
	}
	out.Set("Accept-Language", lang)
	out.Set("Referer", target)

	return out
}

// negotiateEncoding keeps the caller's Accept-Encoding entries the proxy can
// decode, with their parameters. When none remain the default set is used.
func negotiateEncoding(values []string) string {
	var keep []string
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			coding, _, _ := strings.Cut(tok, ";")
			coding = strings.ToLower(strings.TrimSpace(coding))
			if coding == "identity" || slices.Contains(client.SupportedEncodings, coding) {
				keep = append(keep, tok)
			}
		}
	}
	if len(keep) == 0 {
		return defaultAcceptEncoding
	}
	return strings.Join(keep, ", ")
}

func isRedirect(code int) bool {
	return code >= http.StatusMultipleChoices && code <= http.StatusPermanentRedirect && code != http.StatusNotModified
}
