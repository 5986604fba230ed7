package app

import (
	"net/http"
	"net/url"
	"time"

	"github.com/fiffu/hubdeck/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewTransport returns the shared outbound transport. Requests to the GitHub
// API host are rate limited.
func NewTransport(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) http.RoundTripper {
	return newTransport(http.DefaultTransport, cfg, log)
}

func newTransport(base http.RoundTripper, cfg *config.Config, log *zap.Logger) *transport {
	var host string
	if u, err := url.Parse(cfg.GitHub.BaseURL); err == nil {
		host = u.Host
	}

	limit := rate.Inf
	if rps := cfg.GitHub.RequestsPerSecond; rps > 0 {
		limit = rate.Limit(rps)
	}
	return &transport{
		base:       base,
		log:        log,
		githubHost: host,
		limiter:    rate.NewLimiter(limit, max(1, int(cfg.GitHub.RequestsPerSecond))),
	}
}

type transport struct {
	base       http.RoundTripper
	log        *zap.Logger
	githubHost string
	limiter    *rate.Limiter
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == tpt.githubHost {
		if err := tpt.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	startedAt := time.Now()
	res, err := tpt.base.RoundTrip(req)
	elapsed := int(time.Since(startedAt).Milliseconds())
	if err != nil {
		tpt.log.Sugar().Warnw("Outbound request failed", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "elapsed_msecs", elapsed, "err", err)
		return nil, err
	}
	tpt.log.Sugar().Debugw("Outbound request", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "status", res.StatusCode, "elapsed_msecs", elapsed)
	return res, nil
}
