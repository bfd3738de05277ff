package police

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stopsearch/internal/config"
	"stopsearch/internal/domain"
	"stopsearch/internal/util"
)

const sampleMonth = `[
  {
    "age_range": "18-24",
    "outcome": "A no further action disposal",
    "involved_person": true,
    "self_defined_ethnicity": null,
    "datetime": "2025-01-03T14:20:00+00:00",
    "location": {"latitude": "51.5", "street": {"id": 1, "name": "On or near Oxford Street"}, "longitude": "-0.14"},
    "operation": false,
    "legislation": "Misuse of Drugs Act 1971 (section 23)",
    "type": "Person search"
  },
  {
    "age_range": "over 34",
    "outcome": "Arrest",
    "involved_person": true,
    "self_defined_ethnicity": "White - English/Welsh/Scottish/Northern Irish/British",
    "datetime": "2025-01-09T09:05:00+00:00",
    "location": null,
    "operation": false,
    "legislation": null,
    "type": "Person and Vehicle search"
  }
]`

func testSource(serverURL string, pause time.Duration) config.Source {
	retries := 3
	return config.Source{
		APIURLTemplate: serverURL + "/api/stops-force?force={force}&date={date}",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     &retries,
		Backoff:        time.Millisecond,
		Pause:          &pause,
		UserAgent:      "stopsearch-test",
	}
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(testSource(serverURL, 0), util.Discard())
}

func TestFetchMonthReturnsRecords(t *testing.T) {
	var gotForce, gotDate, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForce = r.URL.Query().Get("force")
		gotDate = r.URL.Query().Get("date")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, sampleMonth)
	}))
	defer srv.Close()

	b := testClient(t, srv.URL).FetchMonth(context.Background(), "metropolitan", domain.Month{Year: 2025, Month: time.January})

	if b.Status != domain.FetchOK {
		t.Fatalf("Status = %q, want %q (err %v)", b.Status, domain.FetchOK, b.Err)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if gotForce != "metropolitan" || gotDate != "2025-01" {
		t.Errorf("request force=%q date=%q", gotForce, gotDate)
	}
	if gotUA != "stopsearch-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}

	first := b.Records[0]
	if v := first["involved_person"].Text(); v != "true" {
		t.Errorf("involved_person = %q, want true", v)
	}
	if !first["self_defined_ethnicity"].IsNull() {
		t.Errorf("self_defined_ethnicity = %#v, want null", first["self_defined_ethnicity"])
	}
	wantLoc := `{"latitude":"51.5","longitude":"-0.14","street":{"id":1,"name":"On or near Oxford Street"}}`
	if v := first["location"].Text(); v != wantLoc {
		t.Errorf("location = %q, want %q", v, wantLoc)
	}
	if !b.Records[1]["location"].IsNull() {
		t.Errorf("null location = %#v, want null", b.Records[1]["location"])
	}
}

func TestFetchMonthEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	b := testClient(t, srv.URL).FetchMonth(context.Background(), "metropolitan", domain.Month{Year: 2025, Month: time.February})
	if b.Status != domain.FetchEmpty {
		t.Errorf("Status = %q, want %q", b.Status, domain.FetchEmpty)
	}
	if b.Err != nil || b.Len() != 0 {
		t.Errorf("empty month: Len() = %d, Err = %v", b.Len(), b.Err)
	}
}

func TestFetchMonthNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "force not found", http.StatusNotFound)
	}))
	defer srv.Close()

	b := testClient(t, srv.URL).FetchMonth(context.Background(), "invalid-force", domain.Month{Year: 2025, Month: time.January})

	if b.Status != domain.FetchFailed {
		t.Fatalf("Status = %q, want %q", b.Status, domain.FetchFailed)
	}
	if b.Len() != 0 {
		t.Errorf("failed batch carries %d records", b.Len())
	}
	var se *statusError
	if !errors.As(b.Err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("Err = %v, want a 404 statusError", b.Err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
	if !b.Permanent {
		t.Error("404 batch should be marked permanent")
	}
}

func TestFetchMonthRetriesTransientStatus(t *testing.T) {
	for _, code := range []int{http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= 2 {
					w.WriteHeader(code)
					return
				}
				fmt.Fprint(w, sampleMonth)
			}))
			defer srv.Close()

			b := testClient(t, srv.URL).FetchMonth(context.Background(), "metropolitan", domain.Month{Year: 2025, Month: time.January})
			if b.Status != domain.FetchOK || b.Len() != 2 {
				t.Fatalf("Status = %q Len() = %d Err = %v", b.Status, b.Len(), b.Err)
			}
			if n := calls.Load(); n != 3 {
				t.Errorf("server called %d times, want 3", n)
			}
		})
	}
}

func TestFetchMonthRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := testClient(t, srv.URL).FetchMonth(context.Background(), "metropolitan", domain.Month{Year: 2025, Month: time.January})
	if b.Status != domain.FetchFailed {
		t.Fatalf("Status = %q, want %q", b.Status, domain.FetchFailed)
	}
	// One initial attempt plus MaxRetries.
	if n := calls.Load(); n != 4 {
		t.Errorf("server called %d times, want 4", n)
	}
	if b.Permanent {
		t.Error("exhausted transient failure should not be marked permanent")
	}
}

func TestFetchMonthPauseFollowsSlowResponse(t *testing.T) {
	const (
		service = 150 * time.Millisecond
		pause   = 100 * time.Millisecond
	)
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		time.Sleep(service)
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := NewClient(testSource(srv.URL, pause), util.Discard())
	ctx := context.Background()

	c.FetchMonth(ctx, "metropolitan", domain.Month{Year: 2025, Month: time.January})
	firstDone := time.Now()
	c.FetchMonth(ctx, "metropolitan", domain.Month{Year: 2025, Month: time.February})

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(arrivals))
	}
	if gap := arrivals[1].Sub(firstDone); gap < pause-10*time.Millisecond {
		t.Errorf("second request sent %v after the first finished, want at least %v", gap, pause)
	}
}

func TestFetchMonthMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "not an array"}`)
	}))
	defer srv.Close()

	b := testClient(t, srv.URL).FetchMonth(context.Background(), "metropolitan", domain.Month{Year: 2025, Month: time.January})
	if b.Status != domain.FetchFailed || b.Err == nil {
		t.Errorf("Status = %q Err = %v, want failed with an error", b.Status, b.Err)
	}
}

func TestFetchMonthCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleMonth)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := testClient(t, srv.URL).FetchMonth(ctx, "metropolitan", domain.Month{Year: 2025, Month: time.January})
	if b.Status != domain.FetchFailed {
		t.Errorf("Status = %q, want %q", b.Status, domain.FetchFailed)
	}
	if b.Permanent {
		t.Error("a cancelled fetch should stay retryable")
	}
}

func TestMonthURL(t *testing.T) {
	c := NewClient(config.Source{
		APIURLTemplate: "https://data.police.uk/api/stops-force?force={force}&date={date}",
	}, util.Discard())

	got := c.MonthURL("metropolitan", domain.Month{Year: 2025, Month: time.March})
	want := "https://data.police.uk/api/stops-force?force=metropolitan&date=2025-03"
	if got != want {
		t.Errorf("MonthURL = %q, want %q", got, want)
	}

	if got := c.MonthURL("city of london", domain.Month{Year: 2024, Month: time.December}); got != "https://data.police.uk/api/stops-force?force=city+of+london&date=2024-12" {
		t.Errorf("MonthURL did not escape force: %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &statusError{Code: 429}, true},
		{"500", &statusError{Code: 500}, true},
		{"502", &statusError{Code: 502}, true},
		{"503", &statusError{Code: 503}, true},
		{"504", &statusError{Code: 504}, true},
		{"400", &statusError{Code: 400}, false},
		{"404", &statusError{Code: 404}, false},
		{"501", &statusError{Code: 501}, false},
		{"transport", &transportError{Op: "fetch", Err: errors.New("connection refused")}, true},
		{"read", &transportError{Op: "read body", Err: errors.New("unexpected EOF")}, true},
		{"wrapped transport", fmt.Errorf("month 2025-01: %w", &transportError{Op: "fetch", Err: errors.New("reset")}), true},
		{"cancelled", &transportError{Op: "fetch", Err: context.Canceled}, false},
		{"message only", errors.New("fetch: connection refused"), false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDecodeRecordsNumbersKeepLiteralText(t *testing.T) {
	recs, err := decodeRecords([]byte(`[{"n": 12.50, "i": 7}]`))
	if err != nil {
		t.Fatalf("decodeRecords: %v", err)
	}
	if v := recs[0]["n"].Text(); v != "12.50" {
		t.Errorf("n = %q, want 12.50", v)
	}
	if v := recs[0]["i"].Text(); v != "7" {
		t.Errorf("i = %q, want 7", v)
	}
}
