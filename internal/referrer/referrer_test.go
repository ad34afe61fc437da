// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package referrer

import (
	"net/url"
	"reflect"
	"testing"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want PathInfo
	}{
		{
			name: "full url",
			raw:  "https://shop.example.com/products/socks?color=red&size=10#reviews",
			want: PathInfo{
				Origin: "https://shop.example.com",
				Path:   "/products/socks",
				Hash:   "#reviews",
				Query:  url.Values{"color": {"red"}, "size": {"10"}},
			},
		},
		{
			name: "root path defaults to slash",
			raw:  "https://example.com",
			want: PathInfo{Origin: "https://example.com", Path: "/", Query: url.Values{}},
		},
		{
			name: "empty input",
			raw:  "",
			want: PathInfo{},
		},
		{
			name: "relative path has no host",
			raw:  "/pricing",
			want: PathInfo{},
		},
		{
			name: "garbage input",
			raw:  "://not-a-url",
			want: PathInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParsePath(tt.raw)
			if got.Origin != tt.want.Origin || got.Path != tt.want.Path || got.Hash != tt.want.Hash {
				t.Errorf("ParsePath(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if tt.want.Query != nil && !reflect.DeepEqual(got.Query, tt.want.Query) {
				t.Errorf("Query = %v, want %v", got.Query, tt.want.Query)
			}
		})
	}
}

func TestQueryMap(t *testing.T) {
	t.Parallel()

	info := ParsePath("https://example.com/?a=1&a=2&b=x")
	got := info.QueryMap()
	want := map[string]string{"a": "1", "b": "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueryMap() = %v, want %v", got, want)
	}

	if m := ParsePath("https://example.com/").QueryMap(); m != nil {
		t.Errorf("QueryMap() without params = %v, want nil", m)
	}
}

func TestIsSameDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		referrer string
		page     string
		want     bool
	}{
		{"same host", "https://example.com/a", "https://example.com/b", true},
		{"www stripped", "https://www.example.com/a", "https://example.com/b", true},
		{"case insensitive", "https://Example.COM/a", "https://example.com/b", true},
		{"different host", "https://google.com/", "https://example.com/", false},
		{"subdomain differs", "https://blog.example.com/", "https://example.com/", false},
		{"empty referrer", "", "https://example.com/", false},
		{"empty page", "https://example.com/", "", false},
		{"unparseable referrer", "://bad", "https://example.com/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsSameDomain(tt.referrer, tt.page); got != tt.want {
				t.Errorf("IsSameDomain(%q, %q) = %v, want %v", tt.referrer, tt.page, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want *Referrer
	}{
		{"known search engine", "https://www.google.com/search?q=socks", &Referrer{URL: "https://www.google.com/search?q=socks", Name: "Google", Type: TypeSearch}},
		{"known social", "https://t.co/abc123", &Referrer{URL: "https://t.co/abc123", Name: "Twitter", Type: TypeSocial}},
		{"unknown host falls back to hostname", "https://somesite.io/page", &Referrer{URL: "https://somesite.io/page", Name: "somesite.io", Type: TypeUnknown}},
		{"empty", "", nil},
		{"no host", "/relative", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query url.Values
		want  *Referrer
	}{
		{
			name:  "known utm source carries its url",
			query: url.Values{"utm_source": {"facebook"}},
			want:  &Referrer{URL: "https://facebook.com", Name: "Facebook", Type: TypeSocial},
		},
		{
			name:  "utm source is case insensitive",
			query: url.Values{"utm_source": {" TikTok "}},
			want:  &Referrer{URL: "https://tiktok.com", Name: "TikTok", Type: TypeSocial},
		},
		{
			name:  "email source has no url",
			query: url.Values{"utm_source": {"newsletter"}},
			want:  &Referrer{Name: "Newsletter", Type: TypeEmail},
		},
		{
			name:  "ref param is the fallback",
			query: url.Values{"ref": {"reddit"}},
			want:  &Referrer{URL: "https://reddit.com", Name: "Reddit", Type: TypeSocial},
		},
		{
			name:  "utm_source wins over ref",
			query: url.Values{"utm_source": {"google"}, "ref": {"reddit"}},
			want:  &Referrer{URL: "https://google.com", Name: "Google", Type: TypeSearch},
		},
		{
			name:  "unknown source keeps its literal name",
			query: url.Values{"utm_source": {"partner-blog"}},
			want:  &Referrer{Name: "partner-blog", Type: TypeUnknown},
		},
		{
			name:  "no source",
			query: url.Values{"utm_medium": {"cpc"}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseQuery(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseQuery(%v) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}
