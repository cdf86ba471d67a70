// Package fetcher holds the behavior shared by the page fetcher backends:
// URL canonicalization, browser-like request headers and response sanity checks.
package fetcher

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Defaults used when configuration leaves the header values empty.
const (
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultMinBodyBytes   = 512
)

// NormalizeURL adds a missing https:// scheme, lowercases the host, drops
// default ports and fragments, and canonicalizes whatsapp.com to
// www.whatsapp.com.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", tracker.InvalidInput("url is empty")
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", tracker.ErrInvalidInput, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", tracker.InvalidInput("url has no host")
	}
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Host == "whatsapp.com" {
		u.Host = "www.whatsapp.com"
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// BrowserHeaders returns the request headers sent with every page fetch.
func BrowserHeaders(userAgent, acceptLanguage string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if acceptLanguage == "" {
		acceptLanguage = DefaultAcceptLanguage
	}
	return http.Header{
		"User-Agent":      {userAgent},
		"Accept":          {DefaultAccept},
		"Accept-Language": {acceptLanguage},
	}
}

// CheckResponse rejects non-2xx statuses and bodies shorter than minBody.
func CheckResponse(resp tracker.FetchResponse, minBody int) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &tracker.FetchError{URL: resp.URL, StatusCode: resp.StatusCode}
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return &tracker.FetchError{URL: resp.URL, Reason: "empty body"}
	}
	if minBody > 0 && len(resp.Body) < minBody {
		return &tracker.FetchError{
			URL:    resp.URL,
			Reason: fmt.Sprintf("body too short (%d < %d bytes)", len(resp.Body), minBody),
		}
	}
	return nil
}
