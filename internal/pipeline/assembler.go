// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package pipeline

import (
	"fmt"
	"strings"

	"github.com/jojovvz/openpanel/internal/models"
	"github.com/jojovvz/openpanel/internal/referrer"
	"github.com/jojovvz/openpanel/internal/useragent"
)

// Reserved property keys consumed into dedicated event fields. They are
// stripped from the stored properties map so the data is not duplicated.
var globalProperties = []string{"__path", "__referrer"}

// BuildBaseEvent derives the enriched base event from an incoming job: URL
// breakdown, referrer resolution, geo passthrough, and user-agent
// classification. It is a pure function over the job payload; the only
// tolerated input defect is a malformed URL, which degrades to empty fields.
//
// The returned Info carries the IsServer flag that gates the session branch.
func BuildBaseEvent(job *models.IncomingEventJob) (*models.Event, useragent.Info) {
	properties := job.Event.Properties
	reqID := job.RequestID()

	// profileId is used as a store key downstream; absent means empty
	// string, never null.
	profileID := job.Event.ProfileID

	rawURL := getProperty(properties, "__path")
	pathInfo := referrer.ParsePath(rawURL)

	// A referrer on the same domain as the page is same-site navigation,
	// not an external referrer.
	rawReferrer := getProperty(properties, "__referrer")
	var parsedReferrer *referrer.Referrer
	if !referrer.IsSameDomain(rawReferrer, rawURL) {
		parsedReferrer = referrer.Parse(rawReferrer)
	}
	utmReferrer := referrer.ParseQuery(pathInfo.Query)

	rawUA := job.Header(models.HeaderUserAgent)
	uaInfo := useragent.Parse(rawUA, properties)

	event := &models.Event{
		Name:       job.Event.Name,
		ProfileID:  profileID,
		ProjectID:  job.ProjectID,
		Properties: storedProperties(properties, rawUA, reqID, pathInfo),
		CreatedAt:  job.Event.Timestamp,
		Duration:   0,
		SdkName:    job.Header(models.HeaderSdkName),
		SdkVersion: job.Header(models.HeaderSdkVersion),

		City:      job.Geo.City,
		Country:   job.Geo.Country,
		Region:    job.Geo.Region,
		Longitude: job.Geo.Longitude,
		Latitude:  job.Geo.Latitude,

		Path:   pathInfo.Path,
		Origin: pathInfo.Origin,

		// UTM-derived referrer fields win over the parsed referrer, each
		// field falling back independently.
		Referrer:     firstNonEmpty(referrerURL(utmReferrer), referrerURL(parsedReferrer)),
		ReferrerName: firstNonEmpty(referrerName(utmReferrer), referrerName(parsedReferrer)),
		ReferrerType: firstNonEmpty(referrerType(utmReferrer), referrerType(parsedReferrer)),

		OS:             uaInfo.OS,
		OSVersion:      uaInfo.OSVersion,
		Browser:        uaInfo.Browser,
		BrowserVersion: uaInfo.BrowserVersion,
		Device:         uaInfo.Device,
		Brand:          uaInfo.Brand,
		Model:          uaInfo.Model,
	}

	return event, uaInfo
}

// getProperty reads a named property, falling back to the name with the
// "__" prefix stripped.
//
// Deprecated: the prefix-stripped fallback exists for SDKs that predate the
// reserved-key prefix. It must keep its exact precedence (exact key first)
// until those SDK versions are confirmed gone.
func getProperty(properties map[string]any, name string) string {
	if v := propString(properties, name); v != "" {
		return v
	}
	return propString(properties, strings.TrimPrefix(name, "__"))
}

func propString(properties map[string]any, key string) string {
	if properties == nil {
		return ""
	}
	v, ok := properties[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// storedProperties builds the properties map that is persisted: the original
// properties minus the reserved keys, plus the derived __user_agent, __hash,
// __query and __reqId entries.
func storedProperties(properties map[string]any, rawUA, reqID string, pathInfo referrer.PathInfo) map[string]any {
	stored := make(map[string]any, len(properties)+4)
	for k, v := range properties {
		stored[k] = v
	}
	stored["__user_agent"] = rawUA
	stored["__hash"] = pathInfo.Hash
	stored["__query"] = pathInfo.QueryMap()
	stored["__reqId"] = reqID
	for _, k := range globalProperties {
		delete(stored, k)
	}
	return stored
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func referrerURL(r *referrer.Referrer) string {
	if r == nil {
		return ""
	}
	return r.URL
}

func referrerName(r *referrer.Referrer) string {
	if r == nil {
		return ""
	}
	return r.Name
}

func referrerType(r *referrer.Referrer) string {
	if r == nil {
		return ""
	}
	return r.Type
}
