package reputation

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Dataset is the on-disk shape of the signature/range lists.
type Dataset struct {
	BotSignatures    []string        `yaml:"bot_signatures"`
	DatacenterRanges []string        `yaml:"datacenter_ranges"`
	AnonymizerRanges []string        `yaml:"anonymizer_ranges"`
	HeaderPatterns   []HeaderPattern `yaml:"header_patterns"`
}

// HeaderPattern marks a header value that scripted clients send and
// real browsers do not. Weight is the score contribution on match.
type HeaderPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Weight  int    `yaml:"weight"`
}

// LoadFile swaps in a dataset from a YAML file. On failure the current
// set stays active and the error is logged; detection keeps running.
func (d *Detector) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("reputation dataset unavailable, keeping current set")
		return fmt.Errorf("read reputation dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("reputation dataset malformed, keeping current set")
		return fmt.Errorf("parse reputation dataset: %w", err)
	}
	d.apply(ds)
	log.Info().Int("signatures", len(ds.BotSignatures)).
		Int("datacenter_ranges", len(ds.DatacenterRanges)).
		Int("anonymizer_ranges", len(ds.AnonymizerRanges)).
		Int("header_patterns", len(ds.HeaderPatterns)).
		Msg("reputation dataset loaded")
	return nil
}

// defaultDataset ships with well-known crawler and automation tokens
// plus sample hosting ranges so detection works out of the box.
var defaultDataset = Dataset{
	BotSignatures: []string{
		"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
		"facebookexternalhit", "facebot", "twitterbot", "linkedinbot", "pinterestbot",
		"applebot", "petalbot", "sogou",
		"ahrefsbot", "semrushbot", "mj12bot", "dotbot", "blexbot", "dataforseobot",
		"gptbot", "chatgpt-user", "claudebot", "anthropic-ai", "perplexitybot",
		"bytespider", "ccbot", "diffbot", "amazonbot",
		"headlesschrome", "phantomjs", "slimerjs", "electron",
		"selenium", "webdriver", "puppeteer", "playwright",
		"python-requests", "python-urllib", "aiohttp", "go-http-client", "okhttp",
		"scrapy", "curl/", "wget/", "httpclient", "java/", "libwww",
		"adsbot", "mediapartners-google", "lighthouse", "pagespeed",
	},
	DatacenterRanges: []string{
		// Sample hosting/cloud blocks; production deployments load the
		// full list from the dataset file.
		"3.0.0.0/9",      // AWS
		"13.52.0.0/14",   // AWS us-west
		"20.33.0.0/16",   // Azure
		"20.64.0.0/10",   // Azure
		"34.64.0.0/10",   // GCP
		"35.184.0.0/13",  // GCP
		"64.233.160.0/19",
		"66.249.64.0/19", // Google crawl
		"104.16.0.0/13",  // Cloudflare
		"128.199.0.0/16", // DigitalOcean
		"138.68.0.0/16",  // DigitalOcean
		"167.99.0.0/16",  // DigitalOcean
		"51.15.0.0/16",   // Scaleway
		"135.181.0.0/16", // Hetzner
		"65.108.0.0/15",  // Hetzner
	},
	AnonymizerRanges: []string{
		"185.220.100.0/22", // Tor exits
		"185.220.101.0/24",
		"199.249.230.0/24",
		"204.85.191.0/24",
		"23.129.64.0/24",
		"109.70.100.0/24",
		"146.70.0.0/16", // commercial VPN
		"45.83.89.0/24",
		"91.132.136.0/22",
	},
	HeaderPatterns: []HeaderPattern{
		{Name: "Accept", Pattern: `^\*/\*$`, Weight: 10},
		{Name: "Accept-Language", Pattern: `^$`, Weight: 15},
		{Name: "Accept-Encoding", Pattern: `^$`, Weight: 10},
	},
}
