// Package instagram fetches public profile documents from the Instagram
// mobile API using a sessionid cookie.
package instagram

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"igmonitor/internal/monitor"
	logx "igmonitor/pkg/logx"
)

const (
	DefaultBaseURL   = "https://i.instagram.com"
	profilePath      = "/api/v1/users/web_profile_info/"
	appID            = "936619743392459"
	defaultBodyLimit = 2 << 20
	imageBodyLimit   = 8 << 20
)

// DefaultUserAgents are recent Android app user agents; one is picked per request.
var DefaultUserAgents = []string{
	"Instagram 315.0.0.42.97 Android (33/13; 480dpi; 1080x2400; Xiaomi; 2201123G; lisa; qcom; en_US; 560107895)",
	"Instagram 314.0.0.37.120 Android (32/12; 420dpi; 1080x2340; samsung; SM-G998B; p3s; exynos2100; en_US; 558642214)",
	"Instagram 313.1.0.37.104 Android (31/12; 440dpi; 1080x2400; OnePlus; LE2121; OnePlus9Pro; qcom; en_US; 557512458)",
	"Instagram 312.0.0.42.109 Android (33/13; 560dpi; 1440x3200; Xiaomi; M2012K11AG; venus; qcom; en_US; 555841423)",
	"Instagram 311.0.0.41.109 Android (30/11; 480dpi; 1080x2400; OPPO; CPH2207; OP4F2F; qcom; en_US; 554147875)",
}

type Config struct {
	BaseURL  string
	ProxyURL string
	// Timeout bounds a whole request when the caller's context has no deadline.
	Timeout           time.Duration
	RequestsPerMinute int // 0 = unlimited
	UserAgents        []string
	MaxBodyBytes      int64
}

type Client struct {
	base    string
	http    *http.Client
	tr      *http.Transport
	proxy   atomic.Pointer[url.URL]
	limiter *rate.Limiter
	agents  []string
	maxBody int64
	log     logx.Logger
}

var (
	_ monitor.Fetcher = (*Client)(nil)
	_ monitor.Pacer   = (*Client)(nil)
)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultBodyLimit
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}

	c := &Client{
		base:    base,
		agents:  agents,
		maxBody: cfg.MaxBodyBytes,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log.With(logx.String("comp", "instagram")),
	}
	if err := c.SetProxy(cfg.ProxyURL); err != nil {
		return nil, err
	}
	c.SetRequestsPerMinute(cfg.RequestsPerMinute)
	c.tr = &http.Transport{
		Proxy:               c.proxyFor,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c.http = &http.Client{Transport: c.tr, Timeout: cfg.Timeout}
	return c, nil
}

// SetProxy switches the outbound proxy for new connections; empty falls
// back to the environment. Credentials in the URL are never logged.
func (c *Client) SetProxy(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		c.proxy.Store(nil)
	} else {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy url")
		}
		c.proxy.Store(u)
	}
	if c.tr != nil {
		c.tr.CloseIdleConnections()
	}
	c.log.Debug("proxy set", logx.Bool("enabled", raw != ""))
	return nil
}

// SetRequestsPerMinute changes the pacing limit; 0 removes it.
func (c *Client) SetRequestsPerMinute(n int) {
	if n <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Every(time.Minute / time.Duration(n)))
}

func (c *Client) proxyFor(req *http.Request) (*url.URL, error) {
	if u := c.proxy.Load(); u != nil {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

// Pace blocks until the rate limit admits one more profile request.
func (c *Client) Pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Fetch requests the profile document of username. A non-nil error means no
// HTTP response was received; every status code is returned to the caller.
// Callers that pace requests call Pace first.
func (c *Client) Fetch(ctx context.Context, cred monitor.Credential, username string) (int, []byte, error) {
	u := c.base + profilePath + "?username=" + url.QueryEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	c.decorate(req, cred.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		// the status arrived; a truncated body classifies as malformed
		c.log.Debug("profile body read failed", logx.String("account", username), logx.Err(err))
	}
	return resp.StatusCode, body, nil
}

func (c *Client) decorate(req *http.Request, sessionID string) {
	deviceID := uuid.NewString()
	sum := md5.Sum([]byte(deviceID))
	devHash := hex.EncodeToString(sum[:])

	h := req.Header
	h.Set("User-Agent", c.agents[rand.IntN(len(c.agents))])
	h.Set("X-IG-App-ID", appID)
	h.Set("X-IG-Device-ID", deviceID)
	h.Set("X-IG-Android-ID", "android-"+devHash[:16])
	h.Set("X-IG-App-Locale", "en_US")
	h.Set("X-IG-Device-Locale", "en_US")
	h.Set("X-IG-Mapped-Locale", "en_US")
	h.Set("X-IG-Connection-Type", "WIFI")
	h.Set("X-IG-Capabilities", "3brTv10=")
	h.Set("X-IG-App-Startup-Country", "US")
	h.Set("X-IG-WWW-Claim", "0")
	h.Set("X-Bloks-Is-Layout-RTL", "false")
	h.Set("X-IG-Connection-Speed", strconv.Itoa(1000+rand.IntN(2001))+"kbps")
	h.Set("X-IG-Bandwidth-Speed-KBPS", strconv.FormatFloat(2000+rand.Float64()*3000, 'f', 3, 64))
	h.Set("X-IG-Bandwidth-TotalBytes-B", strconv.Itoa(5000000+rand.IntN(5000001)))
	h.Set("X-IG-Bandwidth-TotalTime-MS", strconv.Itoa(200+rand.IntN(301)))
	h.Set("X-IG-EU-DC-ENABLED", "true")
	h.Set("X-Mid", devHash[:20])
	h.Set("Accept-Language", "en-US")
	h.Set("Accept", "*/*")
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionID})
}

// DownloadImage fetches a profile picture through the same transport.
func (c *Client) DownloadImage(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("empty image url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.agents[rand.IntN(len(c.agents))])
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, imageBodyLimit))
}
