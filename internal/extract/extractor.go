package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const (
	// UnknownChannel is returned when neither og:title nor <title> is present.
	UnknownChannel = "Unknown Channel"
	// NoMatchText is the rawText reported when no strategy matched.
	NoMatchText = "No follower count found"
)

// contentAttr captures a content attribute, closing on the quote it opened with.
const contentAttr = `content=(?:"([^"]*)"|'([^']*)')`

var (
	ogTitleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*` + contentAttr),
		regexp.MustCompile(`(?i)<meta[^>]*` + contentAttr + `[^>]*property=["']og:title["']`),
	}
	titleRe        = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	descriptionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta[^>]*(?:property=["']og:description["']|name=["']description["'])[^>]*` + contentAttr),
		regexp.MustCompile(`(?i)<meta[^>]*` + contentAttr + `[^>]*(?:property=["']og:description["']|name=["']description["'])`),
	}
	jsonLDRe = regexp.MustCompile(`(?is)<script[^>]*type=["']application/ld\+json["'][^>]*>(.*?)</script>`)
)

// Extractor runs the per-platform strategy cascade. It is safe for
// concurrent use.
type Extractor struct {
	cascades map[tracker.Platform][]strategy
}

// New builds an Extractor with the canonical cascades.
func New() *Extractor {
	return &Extractor{cascades: buildCascades()}
}

// Extract never fails: a miss is reported as a nil FollowerCount with
// NoMatchText as the raw text.
func (e *Extractor) Extract(markup, sourceURL string) tracker.Extraction {
	platform := DetectPlatform(sourceURL)
	result := tracker.Extraction{
		ChannelName: channelName(markup),
		Platform:    platform,
		RawText:     NoMatchText,
	}

	p := &page{
		body:        markup,
		description: firstGroup(markup, descriptionRes),
	}
	for _, m := range jsonLDRe.FindAllStringSubmatch(markup, -1) {
		p.jsonLD = append(p.jsonLD, m[1])
	}

	for _, s := range e.cascade(platform) {
		if m, ok := s.Match(p); ok {
			count := m.count
			result.FollowerCount = &count
			result.RawText = strings.TrimSpace(m.rawText)
			result.Strategy = s.Name()
			return result
		}
	}
	return result
}

// StrategyNames lists the cascade for a platform in evaluation order.
func (e *Extractor) StrategyNames(platform tracker.Platform) []string {
	cascade := e.cascade(platform)
	names := make([]string, 0, len(cascade))
	for _, s := range cascade {
		names = append(names, s.Name())
	}
	return names
}

func (e *Extractor) cascade(platform tracker.Platform) []strategy {
	if c, ok := e.cascades[platform]; ok {
		return c
	}
	return e.cascades[tracker.PlatformOther]
}

func channelName(markup string) string {
	if name := firstGroup(markup, ogTitleRes); name != "" {
		return name
	}
	if m := titleRe.FindStringSubmatch(markup); m != nil {
		if name := strings.TrimSpace(html.UnescapeString(m[1])); name != "" {
			return name
		}
	}
	return UnknownChannel
}

func firstGroup(markup string, res []*regexp.Regexp) string {
	for _, re := range res {
		m := re.FindStringSubmatch(markup)
		if m == nil {
			continue
		}
		// Only one of the quote-style groups participates in a match.
		if v := strings.TrimSpace(html.UnescapeString(m[1] + m[2])); v != "" {
			return v
		}
	}
	return ""
}
