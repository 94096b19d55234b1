// Package normalize converts raw posting fields into canonical form and
// derives the stable role identity used for deduplication.
//
// Every function here is pure and total: no I/O, no failure modes, and
// normalizing an already-normalized value returns it unchanged.
package normalize

import (
	"fmt"
	"net/url"
	"strings"

	"jobhunter/pkg/posting"
)

// Location synonym sets. Matched input collapses to a canonical bucket;
// anything else passes through as normalized text.
var (
	remoteSyns = map[string]struct{}{
		"remote":       {},
		"remote - us":  {},
		"remote - usa": {},
		"fully remote": {},
	}
	hybridSyns = map[string]struct{}{
		"hybrid":      {},
		"flexible":    {},
		"part-remote": {},
	}
	onsiteSyns = map[string]struct{}{
		"onsite":  {},
		"on-site": {},
		"on site": {},
	}
)

// Text trims, lowercases, and collapses internal whitespace runs to single
// spaces.
func Text(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Company normalizes a company name.
func Company(s string) string { return Text(s) }

// Title normalizes a job title.
func Title(s string) string { return Text(s) }

// Location normalizes a location string, mapping known remote/hybrid/onsite
// synonyms to their canonical bucket. Unknown locations pass through as
// collapsed text.
func Location(s string) string {
	loc := Text(s)
	if _, ok := remoteSyns[loc]; ok {
		return "remote"
	}
	if _, ok := hybridSyns[loc]; ok {
		return "hybrid"
	}
	if _, ok := onsiteSyns[loc]; ok {
		return "onsite"
	}
	return loc
}

// CanonicalURL reduces a posting URL to scheme+host+path, dropping the query
// string and fragment so tracking-parameter variants collapse to one URL.
// A trailing slash on the path is stripped. Malformed input degrades to the
// best-effort remainder rather than failing.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		// Unparseable: strip query/fragment by hand and keep the rest.
		rest := strings.TrimSpace(raw)
		if i := strings.IndexAny(rest, "?#"); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSuffix(rest, "/")
	}
	path := strings.TrimSuffix(u.Path, "/")
	if u.Scheme == "" || u.Host == "" {
		return path
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path)
}

// ComputeRoleID derives the deduplication key for a posting. Precedence:
//
//  1. source + source_id present: {company}|{source}:{source_id}
//  2. url present:                {company}|{canonical_url}
//  3. fallback:                   {company} alone
//
// The fallback is degenerate: two unrelated postings from the same company
// collide on the same key. Accepted as a known limitation.
//
// All inputs are normalized internally, so identical postings ingested
// through different code paths always land on the same key.
func ComputeRoleID(company, source, sourceID, rawURL string) string {
	comp := Company(company)
	if Text(source) != "" && Text(sourceID) != "" {
		return fmt.Sprintf("%s|%s:%s", comp, Text(source), Text(sourceID))
	}
	if strings.TrimSpace(rawURL) != "" {
		return fmt.Sprintf("%s|%s", comp, CanonicalURL(rawURL))
	}
	return comp
}

// Posting normalizes all identity fields of a raw posting.
func Posting(raw posting.Raw) posting.Normalized {
	n := posting.Normalized{
		Company:  Company(raw.Company),
		Title:    Title(raw.Title),
		Location: Location(raw.Location),
		Source:   Text(raw.Source),
		SourceID: Text(raw.SourceID),
	}
	if strings.TrimSpace(raw.URL) != "" {
		n.URL = CanonicalURL(raw.URL)
	}
	return n
}

// RoleID computes the identity key for a raw posting.
func RoleID(raw posting.Raw) string {
	return ComputeRoleID(raw.Company, raw.Source, raw.SourceID, raw.URL)
}
