package extract

import (
	"strings"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

var platformRules = []struct {
	needles  []string
	platform tracker.Platform
}{
	{needles: []string{"whatsapp.com"}, platform: tracker.PlatformWhatsApp},
	{needles: []string{"tiktok.com"}, platform: tracker.PlatformTikTok},
	{needles: []string{"instagram.com"}, platform: tracker.PlatformInstagram},
	{needles: []string{"youtube.com", "youtu.be"}, platform: tracker.PlatformYouTube},
}

// DetectPlatform classifies rawURL by case-insensitive substring containment.
// Rules are checked in a fixed priority order; unmatched URLs are "other".
func DetectPlatform(rawURL string) tracker.Platform {
	lower := strings.ToLower(rawURL)
	for _, rule := range platformRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.platform
			}
		}
	}
	return tracker.PlatformOther
}
