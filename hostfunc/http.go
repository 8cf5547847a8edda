package hostfunc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

var allowedMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// HTTPConfig configures outbound requests. AllowedHosts entries are domain
// names, IP literals or CIDR prefixes. An empty list disables HTTP.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
	// Client replaces the default client. RequestTimeout is ignored then.
	Client *http.Client
}

// HTTP serves http_request and http_get.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	hosts  hostList
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTTP{cfg: cfg, client: client, hosts: parseHostList(cfg.AllowedHosts)}
}

// Register installs http_request and http_get.
func (h *HTTP) Register(r *Registry) {
	r.Register("http_request", h.Request)
	r.Register("http_get", h.Get)
}

// Request performs the request described by args: "method", "url", "body"
// and "headers". The result holds "status", "body" and "headers".
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	req, err := h.newRequest(ctx, args)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(body),
		"headers": headers,
	}, nil
}

// Get is Request with the method forced to GET. args is not modified.
func (h *HTTP) Get(ctx context.Context, args map[string]any) (any, error) {
	forwarded := make(map[string]any, len(args)+1)
	for k, v := range args {
		forwarded[k] = v
	}
	forwarded["method"] = http.MethodGet
	return h.Request(ctx, forwarded)
}

func (h *HTTP) newRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if !slices.Contains(allowedMethods, method) {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	target, err := h.checkURL(args["url"])
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > h.cfg.MaxBodySize {
			return nil, errors.New("request body exceeds max size")
		}
		body = bytes.NewBufferString(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	return req, nil
}

func (h *HTTP) checkURL(v any) (*url.URL, error) {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return nil, errors.New("url required")
	}
	if len(raw) > h.cfg.MaxURLLength {
		return nil, errors.New("url exceeds max length")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if h.hosts.empty() {
		return nil, errors.New("http not enabled")
	}
	if host := u.Hostname(); !h.hosts.allows(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}
	return u, nil
}

func (h *HTTP) isHostAllowed(host string) bool {
	return h.hosts.allows(host)
}

// hostList is a parsed allow-list. IP literals match after normalization,
// prefixes match any address they contain, and domains match exactly or by
// subdomain. Addresses never match domains.
type hostList struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
	domains  []string
}

func parseHostList(entries []string) hostList {
	var l hostList
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if addr, err := netip.ParseAddr(e); err == nil {
			l.addrs = append(l.addrs, addr.Unmap())
		} else if p, err := netip.ParsePrefix(e); err == nil {
			l.prefixes = append(l.prefixes, p.Masked())
		} else {
			l.domains = append(l.domains, strings.ToLower(e))
		}
	}
	return l
}

func (l hostList) empty() bool {
	return len(l.addrs) == 0 && len(l.prefixes) == 0 && len(l.domains) == 0
}

func (l hostList) allows(host string) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if slices.Contains(l.addrs, addr) {
			return true
		}
		return slices.ContainsFunc(l.prefixes, func(p netip.Prefix) bool { return p.Contains(addr) })
	}
	host = strings.ToLower(host)
	return slices.ContainsFunc(l.domains, func(d string) bool {
		return host == d || strings.HasSuffix(host, "."+d)
	})
}
