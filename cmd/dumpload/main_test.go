package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/dumpload"
)

// =============================================================================
// Helpers
// =============================================================================

func gzipDump(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := io.WriteString(zw, strings.Join(lines, "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// backend serves the locator, the dump and the sink from one test server.
type backend struct {
	srv       *httptest.Server
	calls     atomic.Int64
	delivered atomic.Int64
	records   atomic.Int64
}

func newBackend(t *testing.T, dump []byte, sinkStatus int) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)

	mux.HandleFunc("/locate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"download_url":"`+b.srv.URL+`/dump.gz","download_id":"dl-1"}`)
	})
	mux.HandleFunc("/dump.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(dump)
	})
	mux.HandleFunc("/batches", func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		if sinkStatus != http.StatusOK {
			w.WriteHeader(sinkStatus)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
			return
		}
		var req struct {
			Records []json.RawMessage `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.delivered.Add(1)
		b.records.Add(int64(len(req.Records)))
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	return b
}

func (b *backend) args(extra ...string) []string {
	return append([]string{
		"run",
		"--selector", "full",
		"--locator-url", b.srv.URL + "/locate",
		"--sink-url", b.srv.URL + "/batches",
		"--base-delay-ms", "0",
		"--http-retries", "0",
		"--log-level", "error",
	}, extra...)
}

func runCommand(ctx context.Context, args []string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	rc := NewRootCommand(&out, &errOut)
	rc.SetArgs(args)
	err = rc.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// =============================================================================
// Exit Codes
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "plain error", err: errors.New("boom"), want: exitFailed},
		{name: "cancelled", err: errors.Wrap(dumpload.ErrCancelled, "run"), want: exitCancelled},
		{name: "run error", err: &runError{code: exitCancelled, err: errors.New("x")}, want: exitCancelled},
		{name: "wrapped run error", err: errors.Wrap(&runError{code: exitFailed, err: errors.New("x")}, "outer"), want: exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

// =============================================================================
// Run Command
// =============================================================================

func TestRun_Succeeds(t *testing.T) {
	b := newBackend(t, gzipDump(t,
		`{"id":"a","name":"Alpha","star_rating":4}`,
		`{"id":"b","name":"Bravo","star_rating":4}`,
		`not json`,
		`{"id":"c","name":"Charlie","star_rating":4}`,
	), http.StatusOK)

	stdout, _, err := runCommand(context.Background(), b.args("--batch-size", "2"))
	require.NoError(t, err)
	require.Equal(t, exitOK, exitCode(err))
	require.Equal(t, int64(2), b.delivered.Load())
	require.Equal(t, int64(3), b.records.Load())
	require.Contains(t, stdout, "succeeded")
	require.Contains(t, stdout, "1 (malformed 1, rejected 0)")
	require.Contains(t, stdout, "dl-1")
}

func TestRun_SinkRejectionFails(t *testing.T) {
	b := newBackend(t, gzipDump(t, `{"id":"a","name":"Alpha","star_rating":4}`), http.StatusBadRequest)

	stdout, _, err := runCommand(context.Background(), b.args("--max-retries", "1"))
	require.Error(t, err)
	require.Equal(t, exitFailed, exitCode(err))
	require.Equal(t, int64(1), b.calls.Load())
	require.Zero(t, b.delivered.Load())
	require.Contains(t, stdout, "failed")
	require.Contains(t, stdout, "0 (malformed 0, rejected 0)")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	b := newBackend(t, gzipDump(t, `{"id":"a","name":"Alpha","star_rating":4}`), http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := runCommand(ctx, b.args())
	require.Error(t, err)
	require.Equal(t, exitCancelled, exitCode(err))
	require.Contains(t, stdout, "cancelled")
}

func TestRun_InvalidConfig(t *testing.T) {
	_, _, err := runCommand(context.Background(), []string{"run", "--selector", "full"})
	require.Error(t, err)
	require.Equal(t, exitFailed, exitCode(err))
	require.Contains(t, err.Error(), "locator_url")
}

func TestRun_EnvironmentAndFlags(t *testing.T) {
	t.Setenv("DUMPLOAD_BATCH_SIZE", "7")
	t.Setenv("DUMPLOAD_SINK_URL", "http://sink")
	t.Setenv("DUMPLOAD_API_TOKEN", "secret")

	stdout, _, err := runCommand(context.Background(), []string{
		"config", "--locator-url", "http://locator", "--batch-size", "9",
	})
	require.NoError(t, err)
	require.Contains(t, stdout, "BatchSize:9")
	require.Contains(t, stdout, "SinkURL:http://sink")
	require.NotContains(t, stdout, "secret")
}

// =============================================================================
// Metrics Server
// =============================================================================

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dumpload_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(newMetricsServer(":0", reg).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "dumpload_test_total 1")
}
