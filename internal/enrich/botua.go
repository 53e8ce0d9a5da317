package enrich

import (
	"regexp"

	"github.com/smartpixl/forge/internal/record"
)

// botPattern is one curated crawler signature: Name identifies the bot
// in _srv_botName, Pattern matches its User-Agent string.
type botPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// botTable is the curated set of known crawler User-Agent patterns.
// The first matching entry names the bot, so the GenericBot catch-all
// stays last: it also matches many named crawlers (e.g. Googlebot's
// ".../bot.html" URL).
var botTable = []botPattern{
	{"Googlebot", regexp.MustCompile(`(?i)googlebot`)},
	{"Bingbot", regexp.MustCompile(`(?i)bingbot`)},
	{"Yandexbot", regexp.MustCompile(`(?i)yandexbot`)},
	{"Baiduspider", regexp.MustCompile(`(?i)baiduspider`)},
	{"DuckDuckBot", regexp.MustCompile(`(?i)duckduckbot`)},
	{"Slurp", regexp.MustCompile(`(?i)slurp`)},
	{"AhrefsBot", regexp.MustCompile(`(?i)ahrefsbot`)},
	{"SemrushBot", regexp.MustCompile(`(?i)semrushbot`)},
	{"MJ12bot", regexp.MustCompile(`(?i)mj12bot`)},
	{"DotBot", regexp.MustCompile(`(?i)dotbot`)},
	{"facebookexternalhit", regexp.MustCompile(`(?i)facebookexternalhit`)},
	{"Twitterbot", regexp.MustCompile(`(?i)twitterbot`)},
	{"LinkedInBot", regexp.MustCompile(`(?i)linkedinbot`)},
	{"Applebot", regexp.MustCompile(`(?i)applebot`)},
	{"PetalBot", regexp.MustCompile(`(?i)petalbot`)},
	{"GPTBot", regexp.MustCompile(`(?i)gptbot`)},
	{"ClaudeBot", regexp.MustCompile(`(?i)claudebot|anthropic-ai`)},
	{"CCBot", regexp.MustCompile(`(?i)ccbot`)},
	{"HeadlessChrome", regexp.MustCompile(`(?i)headlesschrome`)},
	{"PhantomJS", regexp.MustCompile(`(?i)phantomjs`)},
	{"PuppeteerGeneric", regexp.MustCompile(`(?i)puppeteer`)},
	{"curl", regexp.MustCompile(`(?i)^curl/`)},
	{"python-requests", regexp.MustCompile(`(?i)python-requests`)},
	{"Go-http-client", regexp.MustCompile(`(?i)go-http-client`)},
	{"Scrapy", regexp.MustCompile(`(?i)scrapy`)},
	{"GenericBot", regexp.MustCompile(`(?i)\bbot\b|\bcrawl(er)?\b|\bspider\b`)},
}

// BotUA detects known crawler User-Agent strings. Step 1 of the
// enrichment chain (spec.md §4.3).
type BotUA struct{}

// NewBotUA returns a stateless bot-UA detector.
func NewBotUA() *BotUA { return &BotUA{} }

// Detect reports whether ua matches a known crawler pattern.
func (BotUA) Detect(ua string) (isBot bool, botName string) {
	if ua == "" {
		return false, ""
	}
	for _, bp := range botTable {
		if bp.Pattern.MatchString(ua) {
			return true, bp.Name
		}
	}
	return false, ""
}

// Apply runs bot detection and appends _srv_knownBot / _srv_botName.
func (b *BotUA) Apply(maxLen int, r *record.TrackingRecord) {
	isBot, name := b.Detect(r.UserAgent)
	r.AppendServerBool(maxLen, "knownBot", isBot)
	if isBot {
		r.AppendServer(maxLen, "botName", name)
	}
}
