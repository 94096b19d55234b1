// Package validate is the structural and data-quality gate applied to a raw
// posting before normalization. Validation failures are returned as data,
// never raised: the caller decides whether to log, count, or reject.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"jobhunter/pkg/posting"
)

// Recommended length bounds. Violations are advisory (see Warnings); only
// emptiness is a hard failure.
const (
	minCompanyLen = 2
	maxCompanyLen = 100
	minTitleLen   = 3
	maxTitleLen   = 200
)

// KnownSources is the allow-list of ATS platforms used in strict mode.
var KnownSources = []string{"greenhouse", "lever", "ashby", "workable"}

// Posting checks a raw posting and returns every violation found. An empty
// slice means the posting is acceptable for normalization. Rules are
// evaluated independently, not short-circuited, so a caller sees all
// problems at once.
func Posting(raw posting.Raw) []string {
	var errs []string

	if strings.TrimSpace(raw.Company) == "" {
		errs = append(errs, "field 'company' must be a non-empty string")
	}
	if strings.TrimSpace(raw.Title) == "" {
		errs = append(errs, "field 'title' must be a non-empty string")
	}

	if u := strings.TrimSpace(raw.URL); u != "" {
		if !validAbsoluteURL(u) {
			errs = append(errs, "field 'url' must be a valid absolute URL (http/https scheme + host)")
		}
	}

	return errs
}

// PostingStrict applies the same rules as Posting and additionally rejects
// source values outside the known-platform allow-list.
func PostingStrict(raw posting.Raw) []string {
	errs := Posting(raw)
	if s := strings.TrimSpace(strings.ToLower(raw.Source)); s != "" && !knownSource(s) {
		errs = append(errs, fmt.Sprintf("field 'source' has unrecognized platform %q (known: %s)",
			raw.Source, strings.Join(KnownSources, ", ")))
	}
	return errs
}

// Warnings reports advisory data-quality findings that do not reject the
// posting: recommended length bounds on company and title.
func Warnings(raw posting.Raw) []string {
	var warns []string

	if c := strings.TrimSpace(raw.Company); c != "" {
		if n := utf8.RuneCountInString(c); n < minCompanyLen || n > maxCompanyLen {
			warns = append(warns, fmt.Sprintf("field 'company' length %d outside recommended bounds %d-%d", n, minCompanyLen, maxCompanyLen))
		}
	}
	if ti := strings.TrimSpace(raw.Title); ti != "" {
		if n := utf8.RuneCountInString(ti); n < minTitleLen || n > maxTitleLen {
			warns = append(warns, fmt.Sprintf("field 'title' length %d outside recommended bounds %d-%d", n, minTitleLen, maxTitleLen))
		}
	}

	return warns
}

// stringFields maps JSON keys to whether the field is required.
var stringFields = map[string]bool{
	"company":     true,
	"title":       true,
	"location":    false,
	"source":      false,
	"source_id":   false,
	"url":         false,
	"description": false,
}

// FromJSON decodes an untrusted posting document, reporting every field that
// is present but not string-typed. The returned Raw carries whatever string
// fields survived decoding; the error list follows the same contract as
// Posting, where empty means clean.
func FromJSON(data []byte) (posting.Raw, []string) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return posting.Raw{}, []string{fmt.Sprintf("input is not a JSON object: %v", err)}
	}

	var errs []string
	str := func(key string) string {
		v, present := doc[key]
		if !present || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field '%s' must be a string if provided", key))
			return ""
		}
		return s
	}

	raw := posting.Raw{
		Company:     str("company"),
		Title:       str("title"),
		Location:    str("location"),
		Source:      str("source"),
		SourceID:    str("source_id"),
		URL:         str("url"),
		Description: str("description"),
	}

	for key, required := range stringFields {
		if _, present := doc[key]; !present && required {
			errs = append(errs, fmt.Sprintf("missing required field: %s", key))
		}
	}

	return raw, errs
}

func validAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func knownSource(s string) bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}
