// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package referrer resolves raw referrer strings and UTM query parameters
// into structured referrer information, and breaks page URLs into their
// stored components.
//
// Malformed input never fails: unparseable URLs degrade to empty fields,
// since ingestion must tolerate imperfect client data.
package referrer

import (
	"net/url"
	"strings"
)

// Referrer is a classified traffic source.
type Referrer struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Referrer types.
const (
	TypeSearch   = "search"
	TypeSocial   = "social"
	TypeShopping = "shopping"
	TypeEmail    = "email"
	TypeUnknown  = "unknown"
)

// PathInfo is the breakdown of a page URL.
type PathInfo struct {
	Origin string
	Path   string
	Hash   string
	Query  url.Values
}

// QueryMap returns the query parameters as a flat map (first value wins),
// the form stored under the __query property.
func (p PathInfo) QueryMap() map[string]string {
	if len(p.Query) == 0 {
		return nil
	}
	m := make(map[string]string, len(p.Query))
	for k, v := range p.Query {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

// ParsePath breaks a raw page URL into origin, path, hash and query.
// A malformed or empty URL yields zero-value fields.
func ParsePath(raw string) PathInfo {
	if raw == "" {
		return PathInfo{}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return PathInfo{}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	hash := u.Fragment
	if hash != "" {
		hash = "#" + hash
	}
	return PathInfo{
		Origin: u.Scheme + "://" + u.Host,
		Path:   path,
		Hash:   hash,
		Query:  u.Query(),
	}
}

// IsSameDomain reports whether the referrer and the page URL share a host.
// Same-site navigation is not an external referrer. Unparseable or empty
// input is never same-domain.
func IsSameDomain(rawReferrer, rawURL string) bool {
	if rawReferrer == "" || rawURL == "" {
		return false
	}
	ref, err := url.Parse(rawReferrer)
	if err != nil || ref.Host == "" {
		return false
	}
	page, err := url.Parse(rawURL)
	if err != nil || page.Host == "" {
		return false
	}
	return stripWWW(ref.Host) == stripWWW(page.Host)
}

// Parse classifies a raw referrer URL. Returns nil for empty or
// unparseable input.
func Parse(raw string) *Referrer {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	host := stripWWW(u.Host)
	if known, ok := knownReferrers[host]; ok {
		return &Referrer{URL: raw, Name: known.name, Type: known.kind}
	}
	return &Referrer{URL: raw, Name: host, Type: TypeUnknown}
}

// ParseQuery derives a referrer from UTM-style query parameters
// (utm_source, then ref). Returns nil when neither is present.
func ParseQuery(query url.Values) *Referrer {
	source := query.Get("utm_source")
	if source == "" {
		source = query.Get("ref")
	}
	if source == "" {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(source))
	if known, ok := knownSources[key]; ok {
		return &Referrer{URL: known.url, Name: known.name, Type: known.kind}
	}
	return &Referrer{Name: source, Type: TypeUnknown}
}

func stripWWW(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

type knownReferrer struct {
	name string
	kind string
	url  string
}

// knownReferrers maps a referrer host (www-stripped, lowercase) to its
// classification.
var knownReferrers = map[string]knownReferrer{
	"google.com":     {name: "Google", kind: TypeSearch},
	"bing.com":       {name: "Bing", kind: TypeSearch},
	"duckduckgo.com": {name: "DuckDuckGo", kind: TypeSearch},
	"search.yahoo.com": {name: "Yahoo", kind: TypeSearch},
	"baidu.com":      {name: "Baidu", kind: TypeSearch},
	"yandex.ru":      {name: "Yandex", kind: TypeSearch},
	"yandex.com":     {name: "Yandex", kind: TypeSearch},
	"ecosia.org":     {name: "Ecosia", kind: TypeSearch},
	"qwant.com":      {name: "Qwant", kind: TypeSearch},
	"startpage.com":  {name: "Startpage", kind: TypeSearch},

	"facebook.com":  {name: "Facebook", kind: TypeSocial},
	"m.facebook.com": {name: "Facebook", kind: TypeSocial},
	"l.facebook.com": {name: "Facebook", kind: TypeSocial},
	"instagram.com": {name: "Instagram", kind: TypeSocial},
	"l.instagram.com": {name: "Instagram", kind: TypeSocial},
	"twitter.com":   {name: "Twitter", kind: TypeSocial},
	"t.co":          {name: "Twitter", kind: TypeSocial},
	"x.com":         {name: "X", kind: TypeSocial},
	"linkedin.com":  {name: "LinkedIn", kind: TypeSocial},
	"lnkd.in":       {name: "LinkedIn", kind: TypeSocial},
	"reddit.com":    {name: "Reddit", kind: TypeSocial},
	"old.reddit.com": {name: "Reddit", kind: TypeSocial},
	"youtube.com":   {name: "YouTube", kind: TypeSocial},
	"tiktok.com":    {name: "TikTok", kind: TypeSocial},
	"pinterest.com": {name: "Pinterest", kind: TypeSocial},
	"news.ycombinator.com": {name: "Hacker News", kind: TypeSocial},
	"github.com":    {name: "GitHub", kind: TypeSocial},
	"mastodon.social": {name: "Mastodon", kind: TypeSocial},
	"bsky.app":      {name: "Bluesky", kind: TypeSocial},

	"amazon.com": {name: "Amazon", kind: TypeShopping},
	"ebay.com":   {name: "eBay", kind: TypeShopping},
	"etsy.com":   {name: "Etsy", kind: TypeShopping},
}

// knownSources maps a utm_source value to its classification.
var knownSources = map[string]knownReferrer{
	"google":    {name: "Google", kind: TypeSearch, url: "https://google.com"},
	"bing":      {name: "Bing", kind: TypeSearch, url: "https://bing.com"},
	"duckduckgo": {name: "DuckDuckGo", kind: TypeSearch, url: "https://duckduckgo.com"},
	"facebook":  {name: "Facebook", kind: TypeSocial, url: "https://facebook.com"},
	"instagram": {name: "Instagram", kind: TypeSocial, url: "https://instagram.com"},
	"twitter":   {name: "Twitter", kind: TypeSocial, url: "https://twitter.com"},
	"x":         {name: "X", kind: TypeSocial, url: "https://x.com"},
	"linkedin":  {name: "LinkedIn", kind: TypeSocial, url: "https://linkedin.com"},
	"reddit":    {name: "Reddit", kind: TypeSocial, url: "https://reddit.com"},
	"youtube":   {name: "YouTube", kind: TypeSocial, url: "https://youtube.com"},
	"tiktok":    {name: "TikTok", kind: TypeSocial, url: "https://tiktok.com"},
	"hackernews": {name: "Hacker News", kind: TypeSocial, url: "https://news.ycombinator.com"},
	"newsletter": {name: "Newsletter", kind: TypeEmail},
	"email":     {name: "Email", kind: TypeEmail},
}
