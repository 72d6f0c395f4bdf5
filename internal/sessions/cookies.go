package sessions

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
	_ "github.com/browserutils/kooky/browser/chromium"
	_ "github.com/browserutils/kooky/browser/edge"
	_ "github.com/browserutils/kooky/browser/firefox"
	_ "github.com/browserutils/kooky/browser/opera"
)

const (
	CookieName   = "sessionid"
	CookieDomain = "instagram.com"
)

// Browsers lists the browser names accepted by FromBrowser.
var Browsers = []string{"chrome", "chromium", "edge", "firefox", "opera"}

// candidate is a cookie reduced to what selection needs.
type candidate struct {
	Browser string
	Domain  string
	Name    string
	Value   string
	Expires time.Time
}

// pick keeps unexpired instagram sessionid values, optionally from one browser.
func pick(cs []candidate, browser string, now time.Time) []string {
	browser = strings.ToLower(strings.TrimSpace(browser))
	var out []string
	for _, c := range cs {
		if c.Name != CookieName || c.Value == "" {
			continue
		}
		d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if d != CookieDomain && !strings.HasSuffix(d, "."+CookieDomain) {
			continue
		}
		if browser != "" && !strings.Contains(strings.ToLower(c.Browser), browser) {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		out = append(out, c.Value)
	}
	return Merge(nil, out)
}

// FromBrowser reads sessionid cookies from local browser profiles. An empty
// browser name searches all supported browsers.
func FromBrowser(ctx context.Context, browser string) ([]string, error) {
	cookies, err := kooky.ReadCookies(ctx, kooky.DomainHasSuffix(CookieDomain))
	if err != nil && len(cookies) == 0 {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	cs := make([]candidate, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		name := ""
		if c.Browser != nil {
			name = c.Browser.Browser()
		}
		cs = append(cs, candidate{Browser: name, Domain: c.Domain, Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	out := pick(cs, browser, time.Now())
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s cookie for %s found in %s", CookieName, CookieDomain, orAll(browser))
	}
	return out, nil
}

// FromNetscape reads sessionid cookies from a cookies.txt export.
func FromNetscape(r io.Reader) ([]string, error) {
	var cs []candidate
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		// curl marks HttpOnly cookies with this prefix.
		text = strings.TrimPrefix(text, "#HttpOnly_")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 7 {
			fields = strings.Fields(text)
		}
		if len(fields) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 fields, got %d", line, len(fields))
		}
		c := candidate{Domain: fields[0], Name: fields[5], Value: strings.Trim(fields[6], `"`)}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			c.Expires = time.Unix(exp, 0)
		}
		cs = append(cs, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pick(cs, "", time.Now()), nil
}

func orAll(browser string) string {
	if strings.TrimSpace(browser) == "" {
		return "any browser"
	}
	return browser
}
