package dumpload

import (
	"net/url"
	"unicode/utf8"
)

// RejectReason names the first rule a line failed. The empty reason means the
// record was accepted.
type RejectReason string

const (
	ReasonMalformed  RejectReason = "malformed"
	ReasonMissingID  RejectReason = "missing_id"
	ReasonShortName  RejectReason = "short_name"
	ReasonStarRating RejectReason = "star_rating"
	ReasonImages     RejectReason = "images"
	ReasonGeo        RejectReason = "geo"
	ReasonAddress    RejectReason = "address"
	ReasonCountry    RejectReason = "country"
)

// Verdict is the result of evaluating a Policy.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
}

func accept() Verdict                    { return Verdict{Accepted: true} }
func reject(reason RejectReason) Verdict { return Verdict{Reason: reason} }

// Policy is the completeness rule set applied to every decoded record. The zero
// value enforces the rules that have no threshold: a non-empty string "id", a
// string "name" of at least two characters and a numeric "star_rating".
//
// Evaluate never panics on unexpected shapes; an absent or wrong-typed field
// only fails the check that needs it.
type Policy struct {
	// MinImages is the minimum number of valid absolute http(s) image URLs.
	MinImages int

	// MinStarRating is the lowest accepted "star_rating". The rating must be
	// present and numeric whatever the threshold.
	MinStarRating float64

	// RequireGeo requires numeric "latitude" in [-90, 90] and "longitude" in
	// [-180, 180].
	RequireGeo bool

	// RequireAddress requires a non-empty "address" string.
	RequireAddress bool

	// RequireCountry requires a two character "country_code" under "region".
	RequireCountry bool
}

// Evaluate applies the policy to r.
func (p Policy) Evaluate(r Record) Verdict {
	if r.ID() == "" {
		return reject(ReasonMissingID)
	}
	if utf8.RuneCountInString(r.Name()) < 2 {
		return reject(ReasonShortName)
	}

	if stars, ok := r.num("star_rating"); !ok || stars < p.MinStarRating {
		return reject(ReasonStarRating)
	}

	if p.MinImages > 0 && len(ValidImages(r["images"])) < p.MinImages {
		return reject(ReasonImages)
	}

	if p.RequireGeo {
		lat, latOK := r.num("latitude")
		lon, lonOK := r.num("longitude")
		if !latOK || !lonOK || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return reject(ReasonGeo)
		}
	}

	if p.RequireAddress {
		if _, ok := r.str("address"); !ok {
			return reject(ReasonAddress)
		}
	}

	if p.RequireCountry {
		region, _ := r["region"].(map[string]any)
		code, _ := region["country_code"].(string)
		if utf8.RuneCountInString(code) != 2 {
			return reject(ReasonCountry)
		}
	}

	return accept()
}

// Normalize rewrites derived fields of an accepted record in place: "images"
// is reduced to its valid absolute URLs. It returns r for convenience.
func (p Policy) Normalize(r Record) Record {
	if v, ok := r["images"]; ok {
		images := ValidImages(v)
		out := make([]any, len(images))
		for i, u := range images {
			out[i] = u
		}
		r["images"] = out
	}
	return r
}

// ValidImages extracts the syntactically valid absolute image URLs from an
// "images" value. Elements may be URL strings or objects with a "url" string.
func ValidImages(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var urls []string
	for _, item := range list {
		var s string
		switch it := item.(type) {
		case string:
			s = it
		case map[string]any:
			s, _ = it["url"].(string)
		}
		if IsAbsoluteURL(s) {
			urls = append(urls, s)
		}
	}
	return urls
}

// IsAbsoluteURL reports whether s parses as an absolute http or https URL with
// a host.
func IsAbsoluteURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
