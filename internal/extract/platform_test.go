package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	cases := map[string]tracker.Platform{
		"https://www.tiktok.com/@x":                   tracker.PlatformTikTok,
		"https://youtu.be/x":                          tracker.PlatformYouTube,
		"https://www.YouTube.com/@chan":               tracker.PlatformYouTube,
		"https://example.com":                         tracker.PlatformOther,
		"https://whatsapp.com/channel/abc":            tracker.PlatformWhatsApp,
		"instagram.com/someone":                       tracker.PlatformInstagram,
		"https://whatsapp.com/redirect?instagram.com": tracker.PlatformWhatsApp,
		"": tracker.PlatformOther,
	}
	for in, want := range cases {
		require.Equal(t, want, DetectPlatform(in), in)
	}
}
