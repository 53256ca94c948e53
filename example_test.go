package dumpload_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bjaus/dumpload"
)

// =============================================================================
// Example Collaborators
// =============================================================================

type staticLocator struct {
	dump []byte
}

func (l *staticLocator) Locate(_ context.Context, selector string) (dumpload.Location, error) {
	return dumpload.Location{URL: "memory://" + selector, DownloadID: "example"}, nil
}

func (l *staticLocator) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.dump)), nil
}

type printSink struct{}

func (printSink) Deliver(_ context.Context, b dumpload.Batch) (dumpload.Outcome, error) {
	ids := make([]string, b.Len())
	for i, r := range b.Records {
		ids[i] = r.ID()
	}
	fmt.Printf("batch %d: %s\n", b.Index, strings.Join(ids, ",")) //nolint:forbidigo // example output for godoc
	return dumpload.Outcome{Accepted: b.Len(), Counted: true}, nil
}

func compress(lines ...string) []byte {
	enc, _ := zstd.NewWriter(nil)
	defer enc.Close()
	return enc.EncodeAll([]byte(strings.Join(lines, "\n")), nil)
}

// =============================================================================
// Example: Basic Run
// =============================================================================

func ExampleNew() {
	locator := &staticLocator{dump: compress(
		`{"id":"a","name":"Alpha","star_rating":4}`,
		`{"id":"b","name":"Bravo","star_rating":4}`,
		`{"id":"c","name":"Charlie","star_rating":4}`,
	)}

	summary, err := dumpload.New(locator, printSink{}).
		WithBatchSize(2).
		Run(context.Background(), "full")
	if err != nil {
		fmt.Println("error:", err)
	}
	fmt.Println(summary.State, summary.Kept, summary.BatchesDelivered)

	// Output:
	// batch 0: a,b
	// batch 1: c
	// succeeded 3 2
}

// =============================================================================
// Example: Filtering Policy
// =============================================================================

func ExamplePipeline_WithPolicy() {
	locator := &staticLocator{dump: compress(
		`{"id":"a","name":"Alpha","star_rating":4.5}`,
		`{"id":"b","name":"Bravo","star_rating":2}`,
		`{"id":"c","name":"C"}`,
		`not json`,
		`{"id":"d","name":"Delta","star_rating":3}`,
	)}

	summary, _ := dumpload.New(locator, printSink{}).
		WithPolicy(dumpload.Policy{MinStarRating: 3}).
		Run(context.Background(), "full")
	fmt.Printf("scanned=%d kept=%d malformed=%d rejected=%d\n",
		summary.Scanned, summary.Kept, summary.Malformed, summary.Rejected)

	// Output:
	// batch 0: a,d
	// scanned=5 kept=2 malformed=1 rejected=2
}

// =============================================================================
// Example: Policy Evaluation
// =============================================================================

func ExamplePolicy_Evaluate() {
	policy := dumpload.Policy{MinImages: 1, RequireCountry: true}

	for _, line := range []string{
		`{"id":"a","name":"Alpha","star_rating":4,"images":["https://cdn/a.jpg"],"region":{"country_code":"PT"}}`,
		`{"id":"b","name":"Bravo","star_rating":4,"images":["/relative.jpg"],"region":{"country_code":"PT"}}`,
		`{"id":"c","name":"Charlie","star_rating":4,"images":["https://cdn/c.jpg"]}`,
	} {
		rec, _ := dumpload.DecodeRecord([]byte(line))
		if v := policy.Evaluate(rec); v.Accepted {
			fmt.Println(rec.ID(), "accepted")
		} else {
			fmt.Println(rec.ID(), "rejected:", v.Reason)
		}
	}

	// Output:
	// a accepted
	// b rejected: images
	// c rejected: country
}
