package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	defaultMaxRedirects    = 5
	defaultDialTimeout     = 5 * time.Second
	defaultMaxIdleConns    = 32
	defaultIdleConnTimeout = 90 * time.Second
)

type Config struct {
	Timeout         time.Duration
	MaxRedirects    int
	DialTimeout     time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// New builds the client used for outbound media fetches and blob service calls.
func New(cfg Config) *http.Client {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = defaultIdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}
