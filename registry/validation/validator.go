// Package validation checks remote store definitions against their origin
// before they are written. Outcomes are advisory: the registry records them
// on the store and never blocks the write.
package validation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/storeflow/internal/metrics"
	"github.com/BaSui01/storeflow/internal/tlsutil"
	"github.com/BaSui01/storeflow/types"
)

// Result keys.
const (
	KeyDisabled    = "disabled"
	KeyURL         = "url"
	KeyNonSSL      = "non_ssl"
	KeySSLAllowed  = "ssl_allowed"
	KeyGetStatus   = "get_status"
	KeyHeadStatus  = "head_status"
	KeyGetError    = "get_error"
	KeyHeadError   = "head_error"
	KeyProtocol    = "protocol"
	KeyClientSetup = "client"
)

// Result is the outcome of validating one store. Errors also carries
// informational entries such as observed status codes.
type Result struct {
	Key    types.StoreKey    `json:"key"`
	URL    string            `json:"url,omitempty"`
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Summary joins the entries of Errors in key order.
func (r *Result) Summary() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Errors[k])
	}
	return strings.Join(parts, "; ")
}

// Validator checks a store definition.
type Validator interface {
	Validate(ctx context.Context, store *types.ArtifactStore) (*Result, error)
}

// Config configures HTTPValidator.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	RequireSSL     bool          `yaml:"require_ssl" json:"require_ssl"`
	AllowedHosts   []string      `yaml:"allowed_hosts" json:"allowed_hosts"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	DisableInvalid bool          `yaml:"disable_invalid" json:"disable_invalid"`
}

// DefaultConfig returns the validator defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
	}
}

// ClientFactory builds the HTTP client used to probe one remote.
type ClientFactory func(remote *types.RemoteRepository, timeout time.Duration) (*http.Client, error)

// HTTPValidator probes remote repositories with concurrent GET and HEAD
// requests and enforces the SSL policy.
type HTTPValidator struct {
	cfg       atomic.Pointer[Config]
	newClient ClientFactory
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// Option configures an HTTPValidator.
type Option func(*HTTPValidator)

// WithClientFactory overrides how probe clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(v *HTTPValidator) { v.newClient = f }
}

// WithMetrics records validation outcomes.
func WithMetrics(c *metrics.Collector) Option {
	return func(v *HTTPValidator) { v.metrics = c }
}

// NewHTTPValidator creates an HTTPValidator.
func NewHTTPValidator(cfg Config, logger *zap.Logger, opts ...Option) *HTTPValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	v := &HTTPValidator{
		newClient: RemoteClient,
		logger:    logger.With(zap.String("component", "store_validator")),
	}
	v.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Config returns the active settings.
func (v *HTTPValidator) Config() Config {
	return *v.cfg.Load()
}

// UpdateConfig swaps the settings used by subsequent validations.
func (v *HTTPValidator) UpdateConfig(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	v.cfg.Store(&cfg)
	v.logger.Info("validator settings updated",
		zap.Bool("require_ssl", cfg.RequireSSL),
		zap.Strings("allowed_hosts", cfg.AllowedHosts),
	)
}

// Validate implements Validator. Only enabled remote repositories are probed;
// anything else is valid.
func (v *HTTPValidator) Validate(ctx context.Context, store *types.ArtifactStore) (*Result, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	res := &Result{Key: store.Key, Errors: make(map[string]string)}

	if store.Key.Type != types.StoreTypeRemote || store.Remote == nil {
		res.Valid = true
		return res, nil
	}
	res.URL = store.Remote.URL

	if store.Disabled {
		res.Valid = true
		res.Errors[KeyDisabled] = "remote repository is disabled"
		return res, nil
	}

	u, err := url.Parse(store.Remote.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		msg := "missing scheme or host"
		if err != nil {
			msg = err.Error()
		}
		res.Errors[KeyURL] = msg
		v.record(res)
		return res, nil
	}

	cfg := v.cfg.Load()
	https := strings.EqualFold(u.Scheme, "https")
	if cfg.RequireSSL && !https {
		rule, ok := MatchAllowedHost(cfg.AllowedHosts, u.Hostname())
		if !ok {
			res.Errors[KeyNonSSL] = u.String()
			v.logger.Warn("non-ssl remote rejected", zap.String("key", store.Key.String()), zap.String("url", u.String()))
			v.record(res)
			return res, nil
		}
		res.Errors[KeySSLAllowed] = rule
	}
	if !https {
		res.Errors[KeyProtocol] = u.Scheme
	}

	client, err := v.newClient(store.Remote, cfg.Timeout)
	if err != nil {
		res.Errors[KeyClientSetup] = err.Error()
		v.record(res)
		return res, nil
	}

	getStatus, headStatus := v.probe(ctx, client, u.String(), res)
	res.Valid = getStatus > 0 && getStatus < 400 && headStatus > 0 && headStatus < 400
	v.record(res)

	v.logger.Debug("remote validated",
		zap.String("key", store.Key.String()),
		zap.Bool("valid", res.Valid),
		zap.Int("get_status", getStatus),
		zap.Int("head_status", headStatus),
	)
	return res, nil
}

// probe issues GET and HEAD concurrently. Transport failures are recorded,
// not returned.
func (v *HTTPValidator) probe(ctx context.Context, client *http.Client, target string, res *Result) (int, int) {
	var (
		mu         sync.Mutex
		getStatus  int
		headStatus int
	)
	set := func(k, val string) {
		mu.Lock()
		res.Errors[k] = val
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		code, err := fetch(gctx, client, http.MethodGet, target)
		if err != nil {
			set(KeyGetError, err.Error())
			return nil
		}
		getStatus = code
		set(KeyGetStatus, strconv.Itoa(code))
		return nil
	})
	g.Go(func() error {
		code, err := fetch(gctx, client, http.MethodHead, target)
		if err != nil {
			set(KeyHeadError, err.Error())
			return nil
		}
		headStatus = code
		set(KeyHeadStatus, strconv.Itoa(code))
		return nil
	})
	_ = g.Wait()
	return getStatus, headStatus
}

func fetch(ctx context.Context, client *http.Client, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (v *HTTPValidator) record(res *Result) {
	if v.metrics == nil {
		return
	}
	if res.Valid {
		v.metrics.RecordValidation("valid")
	} else {
		v.metrics.RecordValidation("invalid")
	}
}

// RemoteClient builds a hardened client honouring the remote's TLS material
// and proxy settings.
func RemoteClient(remote *types.RemoteRepository, timeout time.Duration) (*http.Client, error) {
	tlsCfg, err := tlsutil.OriginTLSConfig(remote.ServerCertPem, remote.KeyCertPem, remote.IgnoreHostnameVerification)
	if err != nil {
		return nil, err
	}
	tr := tlsutil.SecureTransport()
	tr.TLSClientConfig = tlsCfg

	if remote.ProxyHost != "" {
		proxy := &url.URL{Scheme: "http", Host: remote.ProxyHost}
		if remote.ProxyPort > 0 {
			proxy.Host = remote.ProxyHost + ":" + strconv.Itoa(remote.ProxyPort)
		}
		if remote.ProxyUser != "" {
			proxy.User = url.UserPassword(remote.ProxyUser, remote.ProxyPassword)
		}
		tr.Proxy = http.ProxyURL(proxy)
	}

	if remote.TimeoutSeconds > 0 {
		timeout = time.Duration(remote.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout, Transport: tr}
	if remote.User != "" {
		client.Transport = &basicAuthTransport{user: remote.User, password: remote.Password, next: tr}
	}
	return client, nil
}

type basicAuthTransport struct {
	user, password string
	next           http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.user, t.password)
	return t.next.RoundTrip(r)
}

// MatchAllowedHost returns the first rule host satisfies. Rules compare
// dot-separated labels from the right; "*" or an empty label matches any
// label, so ".apache.org" admits every apache.org subdomain and "*" admits
// every host.
func MatchAllowedHost(rules []string, host string) (string, bool) {
	hostLabels := strings.Split(strings.ToLower(strings.TrimSuffix(host, ".")), ".")
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if rule == "*" {
			return rule, true
		}
		ruleLabels := strings.Split(strings.ToLower(rule), ".")
		if matchLabels(ruleLabels, hostLabels) {
			return rule, true
		}
	}
	return "", false
}

func matchLabels(rule, host []string) bool {
	if len(rule) > len(host) {
		// 前导空标签（".apache.org"）可以不对应任何主机标签
		if rule[0] != "" || len(rule)-1 > len(host) {
			return false
		}
		rule = rule[1:]
	}
	for i := 1; i <= len(rule); i++ {
		r := strings.TrimSpace(rule[len(rule)-i])
		h := host[len(host)-i]
		if r == "*" || r == "" || r == h {
			continue
		}
		return false
	}
	return true
}

var _ Validator = (*HTTPValidator)(nil)
