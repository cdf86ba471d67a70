package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const whatsappURL = "https://whatsapp.com/channel/0029Va"

func TestExtractFromDescription(t *testing.T) {
	t.Parallel()

	e := New()
	cases := []struct {
		name      string
		url       string
		html      string
		wantCount int64
		wantName  string
	}{
		{
			name: "bullet form",
			url:  whatsappURL,
			html: `<html><head>
				<meta property="og:title" content="NoStudios" />
				<meta property="og:description" content="Channel • 10 followers • We are NoStudios" />
				</head><body></body></html>`,
			wantCount: 10,
			wantName:  "NoStudios",
		},
		{
			name: "K suffix",
			url:  whatsappURL,
			html: `<html><head>
				<meta property="og:title" content="BigChannel" />
				<meta property="og:description" content="15.4K followers on WhatsApp" />
				</head><body></body></html>`,
			wantCount: 15400,
			wantName:  "BigChannel",
		},
		{
			name: "M suffix with title fallback",
			url:  "https://example.com/page",
			html: `<html><head>
				<meta property="og:description" content="1.2M Follower" />
				<title>MegaChannel</title>
				</head><body></body></html>`,
			wantCount: 1200000,
			wantName:  "MegaChannel",
		},
		{
			name: "german keyword",
			url:  "https://example.com/page",
			html: `<html><head>
				<meta property="og:description" content="3.5K Abonnenten" />
				<meta property="og:title" content="DeutschKanal" />
				</head><body></body></html>`,
			wantCount: 3500,
			wantName:  "DeutschKanal",
		},
		{
			name: "reversed attribute order",
			url:  "https://www.youtube.com/@chan",
			html: `<meta content="Tech &amp; Stuff" property="og:title">
				<meta content="Videos daily. 2.1M subscribers" name="description">`,
			wantCount: 2100000,
			wantName:  "Tech & Stuff",
		},
		{
			name:      "keyword before number",
			url:       "https://example.com",
			html:      `<meta name="description" content="Followers: 1,234">`,
			wantCount: 1234,
			wantName:  UnknownChannel,
		},
		{
			name:      "whatsapp members",
			url:       whatsappURL,
			html:      `<meta property="og:description" content="Community with 321 members">`,
			wantCount: 321,
			wantName:  UnknownChannel,
		},
		{
			name: "apostrophe inside double quotes",
			url:  "https://www.instagram.com/mcdonalds_de/",
			html: `<meta property="og:title" content="McDonald's Deutschland">
				<meta property="og:description" content="McDonald's: 2.5M followers, 300 following">`,
			wantCount: 2500000,
			wantName:  "McDonald's Deutschland",
		},
		{
			name: "double quote inside single quotes",
			url:  "https://example.com",
			html: `<meta content='The "Best" Channel' property='og:title'>
				<meta content='We are "the best" with 42 fans' name='description'>`,
			wantCount: 42,
			wantName:  `The "Best" Channel`,
		},
		{
			name:      "keyword first with trailing period",
			url:       "https://www.youtube.com/@chan",
			html:      `<meta name="description" content="Daily uploads. Subscribers: 1,234.">`,
			wantCount: 1234,
			wantName:  UnknownChannel,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := e.Extract(tc.html, tc.url)
			require.True(t, got.Found())
			require.Equal(t, tc.wantCount, *got.FollowerCount)
			require.Equal(t, tc.wantName, got.ChannelName)
			require.Equal(t, DetectPlatform(tc.url), got.Platform)
		})
	}
}

func TestExtractMetaBeatsBody(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<meta property="og:description" content="10 followers">
		</head><body><div>999 followers</div></body></html>`
	got := New().Extract(html, "https://example.com")
	require.NotNil(t, got.FollowerCount)
	require.Equal(t, int64(10), *got.FollowerCount)
	require.Equal(t, "10 followers", got.RawText)
	require.Equal(t, "generic_meta_number_first", got.Strategy)
}

func TestExtractInstagramFollowersBeforeFollowing(t *testing.T) {
	t.Parallel()

	html := `<meta property="og:description" content="1,234 Followers, 56 Following, 78 Posts - See Instagram photos">`
	got := New().Extract(html, "https://www.instagram.com/someone/")
	require.Equal(t, int64(1234), *got.FollowerCount)
	require.Equal(t, tracker.PlatformInstagram, got.Platform)
	require.Equal(t, "instagram_meta_number_first", got.Strategy)
}

func TestExtractApostropheKeepsPlatformMetaRule(t *testing.T) {
	t.Parallel()

	html := `<meta property="og:title" content="McDonald's Deutschland">
		<meta property="og:description" content="McDonald's Deutschland: 2.5M followers">
		<body>9 followers</body>`
	got := New().Extract(html, "https://www.instagram.com/mcdonalds_de/")
	require.Equal(t, "McDonald's Deutschland", got.ChannelName)
	require.Equal(t, int64(2500000), *got.FollowerCount)
	require.Equal(t, "2.5M followers", got.RawText)
	require.Equal(t, "instagram_meta_number_first", got.Strategy)
}

func TestExtractTrimsSentencePunctuation(t *testing.T) {
	t.Parallel()

	got := New().Extract(`<meta name="description" content="Followers: 1,234. Join us">`, "https://example.com")
	require.Equal(t, int64(1234), *got.FollowerCount)
	require.Equal(t, "Followers: 1,234", got.RawText)
	require.Equal(t, "generic_meta_keyword_first", got.Strategy)

	got = New().Extract(`<body>Count: 1.2.3.. followers</body>`, "https://example.com")
	require.False(t, got.Found())
}

func TestExtractFromBody(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>TestCh</title></head><body><div>500 followers</div></body></html>`
	got := New().Extract(html, "https://example.com")
	require.Equal(t, int64(500), *got.FollowerCount)
	require.Equal(t, "500 followers", got.RawText)
	require.Equal(t, "TestCh", got.ChannelName)
}

func TestExtractSkipsUnparseableTokens(t *testing.T) {
	t.Parallel()

	html := `<body>1.2.3 followers and later 77 followers</body>`
	got := New().Extract(html, "https://example.com")
	require.Equal(t, int64(77), *got.FollowerCount)
}

func TestExtractJSONLD(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>LD</title>
	<script type="application/ld+json">{"@context":"https://schema.org","@type":"ProfilePage",
	"mainEntity":{"@type":"Person","interactionStatistic":[
		{"@type":"InteractionCounter","interactionType":"https://schema.org/LikeAction","userInteractionCount":5},
		{"@type":"InteractionCounter","interactionType":"https://schema.org/FollowAction","userInteractionCount":4321}
	]}}</script></head><body></body></html>`
	got := New().Extract(html, "https://example.com")
	require.Equal(t, int64(4321), *got.FollowerCount)
	require.Equal(t, "JSON-LD: 4321", got.RawText)
	require.Equal(t, "jsonld", got.Strategy)
}

func TestExtractInvalidJSONLDIsAMiss(t *testing.T) {
	t.Parallel()

	html := `<script type="application/ld+json">{not json</script>`
	got := New().Extract(html, "https://example.com")
	require.False(t, got.Found())
	require.Equal(t, NoMatchText, got.RawText)
}

func TestExtractMiss(t *testing.T) {
	t.Parallel()

	for _, html := range []string{
		`<html><head><title>Empty</title></head><body>No data</body></html>`,
		``,
		`<<<>>> garbage 12 following`,
	} {
		got := New().Extract(html, "https://www.tiktok.com/@x")
		require.Nil(t, got.FollowerCount)
		require.Equal(t, NoMatchText, got.RawText)
		require.Empty(t, got.Strategy)
	}
	got := New().Extract(`<title>Empty</title>`, "")
	require.Equal(t, "Empty", got.ChannelName)
	require.Equal(t, tracker.PlatformOther, got.Platform)
}

func TestCascadeOrder(t *testing.T) {
	t.Parallel()

	e := New()
	require.Equal(t, []string{
		"generic_meta_number_first",
		"generic_meta_keyword_first",
		"generic_body_number_first",
		"channel_bullet_body",
		"generic_body_keyword_first",
		"jsonld",
	}, e.StrategyNames(tracker.PlatformOther))

	yt := e.StrategyNames(tracker.PlatformYouTube)
	require.Equal(t, "youtube_meta_number_first", yt[0])
	require.Equal(t, "youtube_meta_keyword_first", yt[1])
	require.Equal(t, "jsonld", yt[len(yt)-1])

	wa := e.StrategyNames(tracker.PlatformWhatsApp)
	require.Equal(t, "channel_bullet_meta", wa[0])
}
