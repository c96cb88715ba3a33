// Package sitemap discovers marketplace URLs and classifies them into
// crawlable work items by entity kind.
package sitemap

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// Default path patterns for the marketplace layout. Category browse pages
// live under a type prefix, so the category and listing patterns overlap
// textually and precedence decides.
const (
	defaultProfilePattern  = `^/author/[^/]+`
	defaultCategoryPattern = `^/(?:vector|photo|psd|icon|video|font)/category/`
	defaultListingPattern  = `^/(?:vector|photo|psd|icon|video|font)/`
	defaultHelpPattern     = `^/(?:help|support|faq|docs)(?:/|$)`
)

// Verdict is the classification outcome for one sitemap URL.
type Verdict int

// Classification outcomes.
const (
	VerdictDiscard Verdict = iota
	VerdictWork
	VerdictHelp
)

// ClassifierConfig overrides the default path patterns. Empty fields keep
// the defaults.
type ClassifierConfig struct {
	ProfilePattern  string
	CategoryPattern string
	ListingPattern  string
	HelpPattern     string
}

// Classifier applies the fixed precedence profile > category > listing >
// help > discard. A path matching both the category and listing patterns
// classifies as category; the order is load-bearing, not cosmetic.
type Classifier struct {
	profile  *regexp.Regexp
	category *regexp.Regexp
	listing  *regexp.Regexp
	help     *regexp.Regexp
}

// NewClassifier compiles the configured patterns.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	compile := func(name, pattern, fallback string) (*regexp.Regexp, error) {
		if pattern == "" {
			pattern = fallback
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", name, pattern, err)
		}
		return re, nil
	}

	profile, err := compile("profile", cfg.ProfilePattern, defaultProfilePattern)
	if err != nil {
		return nil, err
	}
	category, err := compile("category", cfg.CategoryPattern, defaultCategoryPattern)
	if err != nil {
		return nil, err
	}
	listing, err := compile("listing", cfg.ListingPattern, defaultListingPattern)
	if err != nil {
		return nil, err
	}
	help, err := compile("help", cfg.HelpPattern, defaultHelpPattern)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		profile:  profile,
		category: category,
		listing:  listing,
		help:     help,
	}, nil
}

// Classify maps one URL to an entity kind. Unparseable URLs are discarded.
func (c *Classifier) Classify(rawURL string) (crawl.EntityKind, Verdict) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", VerdictDiscard
	}
	path := parsed.Path
	switch {
	case c.profile.MatchString(path):
		return crawl.KindProfile, VerdictWork
	case c.category.MatchString(path):
		return crawl.KindCategory, VerdictWork
	case c.listing.MatchString(path):
		return crawl.KindListing, VerdictWork
	case c.help.MatchString(path):
		return "", VerdictHelp
	default:
		return "", VerdictDiscard
	}
}
