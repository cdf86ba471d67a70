package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const countToken = `(\d[\d,.]*[KkMmBb]?)`

// keywordSet is a named, case-insensitive alternation of follower keywords.
type keywordSet struct {
	name        string
	alternation string
}

var (
	genericKeywords   = keywordSet{name: "generic", alternation: `followers?|abonnenten|subscribers?|fans|abonnés`}
	whatsappKeywords  = keywordSet{name: "whatsapp", alternation: `followers?|abonnenten|abonnés|members|participants`}
	instagramKeywords = keywordSet{name: "instagram", alternation: `followers?|abonnenten|abonnés`}
	tiktokKeywords    = keywordSet{name: "tiktok", alternation: `followers?|fans`}
	youtubeKeywords   = keywordSet{name: "youtube", alternation: `subscribers?|abonnenten|abonnés`}
)

// source selects the text a strategy is evaluated against.
type source int

const (
	sourceMeta source = iota
	sourceBody
)

func (s source) String() string {
	if s == sourceMeta {
		return "meta"
	}
	return "body"
}

// page is the pre-parsed view of one document shared by every strategy.
type page struct {
	body        string
	description string
	jsonLD      []string
}

type match struct {
	count   int64
	rawText string
}

// strategy is one step of the extraction cascade.
type strategy interface {
	Name() string
	Match(p *page) (match, bool)
}

// regexStrategy matches a pattern whose first group is the count token.
type regexStrategy struct {
	name   string
	source source
	re     *regexp.Regexp
}

func (s regexStrategy) Name() string { return s.name }

func (s regexStrategy) Match(p *page) (match, bool) {
	text := p.body
	if s.source == sourceMeta {
		text = p.description
	}
	if text == "" {
		return match{}, false
	}
	for _, m := range s.re.FindAllStringSubmatch(text, -1) {
		if count, ok := ParseNumber(m[1]); ok {
			return match{count: count, rawText: m[0]}, true
		}
		// "Subscribers: 1,234." ends the token with sentence punctuation.
		token := strings.TrimRight(m[1], ".,")
		if token == m[1] || len(m[1])-len(token) > 1 {
			continue
		}
		if count, ok := ParseNumber(token); ok {
			return match{count: count, rawText: strings.TrimSuffix(m[0], m[1][len(token):])}, true
		}
	}
	return match{}, false
}

func numberFirst(src source, kw keywordSet) regexStrategy {
	return regexStrategy{
		name:   fmt.Sprintf("%s_%s_number_first", kw.name, src),
		source: src,
		re:     regexp.MustCompile(`(?i)` + countToken + `\s*(?:` + kw.alternation + `)`),
	}
}

func keywordFirst(src source, kw keywordSet) regexStrategy {
	return regexStrategy{
		name:   fmt.Sprintf("%s_%s_keyword_first", kw.name, src),
		source: src,
		re:     regexp.MustCompile(`(?i)(?:` + kw.alternation + `)\s*[:\s]*` + countToken),
	}
}

func channelBullet(src source) regexStrategy {
	return regexStrategy{
		name:   fmt.Sprintf("channel_bullet_%s", src),
		source: src,
		re:     regexp.MustCompile(`(?i)(?:channel|kanal)\s*[•·|]\s*` + countToken + `\s*(?:followers?)`),
	}
}

// buildCascades returns the ordered strategy list per platform: platform
// meta rules, generic meta rules, generic body rules, then JSON-LD.
func buildCascades() map[tracker.Platform][]strategy {
	generic := []strategy{
		numberFirst(sourceMeta, genericKeywords),
		keywordFirst(sourceMeta, genericKeywords),
		numberFirst(sourceBody, genericKeywords),
		channelBullet(sourceBody),
		keywordFirst(sourceBody, genericKeywords),
		jsonLDStrategy{},
	}

	withPlatform := func(head ...strategy) []strategy {
		out := make([]strategy, 0, len(head)+len(generic))
		out = append(out, head...)
		return append(out, generic...)
	}

	return map[tracker.Platform][]strategy{
		tracker.PlatformWhatsApp: withPlatform(
			channelBullet(sourceMeta),
			numberFirst(sourceMeta, whatsappKeywords),
			keywordFirst(sourceMeta, whatsappKeywords),
		),
		tracker.PlatformInstagram: withPlatform(
			numberFirst(sourceMeta, instagramKeywords),
			keywordFirst(sourceMeta, instagramKeywords),
		),
		tracker.PlatformTikTok: withPlatform(
			numberFirst(sourceMeta, tiktokKeywords),
			keywordFirst(sourceMeta, tiktokKeywords),
		),
		tracker.PlatformYouTube: withPlatform(
			numberFirst(sourceMeta, youtubeKeywords),
			keywordFirst(sourceMeta, youtubeKeywords),
		),
		tracker.PlatformOther: generic,
	}
}
