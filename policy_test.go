package dumpload_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/dumpload"
)

func decode(t *testing.T, line string) dumpload.Record {
	t.Helper()
	rec, err := dumpload.DecodeRecord([]byte(line))
	require.NoError(t, err)
	return rec
}

func TestDecodeRecord(t *testing.T) {
	rec := decode(t, `{"id":" h1 ","name":"Grand","star_rating":4.5,"region":{"country_code":"FR"}}`)
	require.Equal(t, "h1", rec.ID())
	require.Equal(t, "Grand", rec.Name())
	require.InDelta(t, 4.5, rec["star_rating"], 0.0001)

	for _, line := range []string{`not json`, `[1,2,3]`, `"string"`, `null`, `{"id":`} {
		_, err := dumpload.DecodeRecord([]byte(line))
		require.Error(t, err, line)
	}
}

func TestPolicy_Evaluate(t *testing.T) {
	full := dumpload.Policy{
		MinImages:      1,
		MinStarRating:  3,
		RequireGeo:     true,
		RequireAddress: true,
		RequireCountry: true,
	}
	complete := `{"id":"h1","name":"Grand","star_rating":4,"images":["https://img/1.jpg"],` +
		`"latitude":48.85,"longitude":2.35,"address":"1 Rue","region":{"country_code":"FR"}}`

	tests := []struct {
		name   string
		policy dumpload.Policy
		line   string
		want   dumpload.RejectReason
	}{
		{name: "minimal record under zero policy", line: `{"id":"h1","name":"Ab","star_rating":0}`},
		{name: "missing id", line: `{"name":"Grand"}`, want: dumpload.ReasonMissingID},
		{name: "blank id", line: `{"id":"  ","name":"Grand"}`, want: dumpload.ReasonMissingID},
		{name: "numeric id", line: `{"id":7,"name":"Grand"}`, want: dumpload.ReasonMissingID},
		{name: "one character name", line: `{"id":"h1","name":"A"}`, want: dumpload.ReasonShortName},
		{name: "missing name", line: `{"id":"h1"}`, want: dumpload.ReasonShortName},
		{name: "multibyte name counts runes", line: `{"id":"h1","name":"日本","star_rating":1}`},
		{name: "complete record under full policy", policy: full, line: complete},
		{
			name:   "stars below minimum",
			policy: dumpload.Policy{MinStarRating: 3},
			line:   `{"id":"h1","name":"Grand","star_rating":2.5}`,
			want:   dumpload.ReasonStarRating,
		},
		{
			name:   "stars not numeric",
			policy: dumpload.Policy{MinStarRating: 3},
			line:   `{"id":"h1","name":"Grand","star_rating":"5"}`,
			want:   dumpload.ReasonStarRating,
		},
		{
			name: "stars missing under zero policy",
			line: `{"id":"h1","name":"Hotel"}`,
			want: dumpload.ReasonStarRating,
		},
		{
			name: "stars as string under zero policy",
			line: `{"id":"h1","name":"Hotel","star_rating":"five"}`,
			want: dumpload.ReasonStarRating,
		},
		{
			name: "any numeric stars under zero policy",
			line: `{"id":"h1","name":"Hotel","star_rating":0.5}`,
		},
		{
			name:   "relative image urls do not count",
			policy: dumpload.Policy{MinImages: 1},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"images":["/img/1.jpg","ftp://x/y"]}`,
			want:   dumpload.ReasonImages,
		},
		{
			name:   "image objects with url",
			policy: dumpload.Policy{MinImages: 2},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"images":[{"url":"http://a/1"},"https://a/2"]}`,
		},
		{
			name:   "latitude out of range",
			policy: dumpload.Policy{RequireGeo: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"latitude":91,"longitude":0}`,
			want:   dumpload.ReasonGeo,
		},
		{
			name:   "longitude missing",
			policy: dumpload.Policy{RequireGeo: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"latitude":10}`,
			want:   dumpload.ReasonGeo,
		},
		{
			name:   "geo boundaries are inclusive",
			policy: dumpload.Policy{RequireGeo: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"latitude":-90,"longitude":180}`,
		},
		{
			name:   "blank address",
			policy: dumpload.Policy{RequireAddress: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"address":"   "}`,
			want:   dumpload.ReasonAddress,
		},
		{
			name:   "country code at top level is not enough",
			policy: dumpload.Policy{RequireCountry: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"country_code":"FR"}`,
			want:   dumpload.ReasonCountry,
		},
		{
			name:   "three letter country code",
			policy: dumpload.Policy{RequireCountry: true},
			line:   `{"id":"h1","name":"Grand","star_rating":3,"region":{"country_code":"FRA"}}`,
			want:   dumpload.ReasonCountry,
		},
		{
			name:   "first failing rule wins",
			policy: full,
			line:   `{"id":"h1","name":"G","star_rating":1}`,
			want:   dumpload.ReasonShortName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.policy.Evaluate(decode(t, tt.line))
			require.Equal(t, tt.want == "", v.Accepted)
			require.Equal(t, tt.want, v.Reason)
		})
	}
}

func TestPolicy_Normalize(t *testing.T) {
	rec := decode(t, `{"id":"h1","name":"Grand","images":["https://a/1","nope",{"url":"http://a/2"},{"caption":"x"}]}`)

	out := dumpload.Policy{}.Normalize(rec)

	require.Equal(t, []any{"https://a/1", "http://a/2"}, out["images"])
	require.Equal(t, "h1", out.ID())
}

func TestIsAbsoluteURL(t *testing.T) {
	for s, want := range map[string]bool{
		"https://cdn.example.com/a.jpg": true,
		"http://host":                   true,
		"":                              false,
		"/relative/path.jpg":            false,
		"https://":                      false,
		"mailto:a@b.c":                  false,
		"://missing-scheme":             false,
	} {
		require.Equal(t, want, dumpload.IsAbsoluteURL(s), s)
	}
}
