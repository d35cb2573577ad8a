package transmit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"substation-sim/internal/sensor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReadings() []sensor.Reading {
	return []sensor.Reading{
		{Key: "supply_temp", ID: 0, Value: 75.12, Unit: "°C"},
		{Key: "return_temp", ID: 1, Value: 55.4, Unit: "°C"},
		{Key: "supply_pressure", ID: 3, Value: 6.01, Unit: "bar"},
	}
}

type recordedRequest struct {
	method      string
	contentType string
	requestID   string
	body        []byte
}

type collector struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   func(n int) int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.requests = append(c.requests, recordedRequest{
		method:      r.Method,
		contentType: r.Header.Get("Content-Type"),
		requestID:   r.Header.Get("X-Request-ID"),
		body:        body,
	})
	n := len(c.requests)
	c.mu.Unlock()
	w.WriteHeader(c.status(n))
}

func newTransmitter(url string) *Transmitter {
	return New(Options{DeviceID: "SUBSTATION_01", Location: "UB", TargetURL: url}, nil, discardLogger())
}

func TestSend_AlwaysOK(t *testing.T) {
	c := &collector{status: func(int) int { return http.StatusOK }}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := newTransmitter(srv.URL)
	const n = 7
	for i := 0; i < n; i++ {
		res := tr.Send(context.Background(), sampleReadings())
		if !res.OK {
			t.Fatalf("send %d: OK = false, err = %v", i, res.Err)
		}
		if res.StatusCode != http.StatusOK || res.Err != nil {
			t.Fatalf("send %d: result = %+v", i, res)
		}
	}

	got := tr.Counters()
	if got.Success != n || got.Failed != 0 {
		t.Errorf("Counters = %+v, want success=%d failed=0", got, n)
	}
	st := tr.Stats()
	if st.Total != n || st.SuccessRate != 100 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestSend_AlwaysRejected(t *testing.T) {
	c := &collector{status: func(int) int { return http.StatusServiceUnavailable }}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := newTransmitter(srv.URL)
	const n = 4
	for i := 0; i < n; i++ {
		res := tr.Send(context.Background(), sampleReadings())
		if res.OK {
			t.Fatalf("send %d: OK = true, want false", i)
		}
		if res.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("send %d: StatusCode = %d", i, res.StatusCode)
		}
		if !errors.Is(res.Err, ErrRejected) {
			t.Errorf("send %d: Err = %v, want ErrRejected", i, res.Err)
		}
	}

	got := tr.Counters()
	if got.Success != 0 || got.Failed != n {
		t.Errorf("Counters = %+v, want success=0 failed=%d", got, n)
	}
}

func TestSend_Non200SuccessStatusIsFailure(t *testing.T) {
	c := &collector{status: func(int) int { return http.StatusCreated }}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := newTransmitter(srv.URL)
	if res := tr.Send(context.Background(), sampleReadings()); res.OK {
		t.Fatal("HTTP 201 counted as success")
	}
	if got := tr.Counters(); got.Failed != 1 {
		t.Errorf("Failed = %d, want 1", got.Failed)
	}
}

func TestSend_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := newTransmitter(url)
	res := tr.Send(context.Background(), sampleReadings())
	if res.OK {
		t.Fatal("OK = true against closed server")
	}
	if res.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", res.StatusCode)
	}
	if res.Err == nil {
		t.Error("Err = nil, want transport error")
	}
	if got := tr.Counters(); got.Success != 0 || got.Failed != 1 {
		t.Errorf("Counters = %+v", got)
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := New(Options{TargetURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, discardLogger())
	start := time.Now()
	res := tr.Send(context.Background(), sampleReadings())
	if res.OK {
		t.Fatal("OK = true for hung collector")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send took %v, want bounded by timeout", elapsed)
	}
	if got := tr.Counters(); got.Failed != 1 {
		t.Errorf("Failed = %d, want 1", got.Failed)
	}
}

func TestSend_PayloadShape(t *testing.T) {
	c := &collector{status: func(int) int { return http.StatusOK }}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := newTransmitter(srv.URL)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	tr.now = func() time.Time { return fixed }

	readings := sampleReadings()
	res := tr.Send(context.Background(), readings)
	if !res.OK {
		t.Fatalf("send failed: %v", res.Err)
	}

	c.mu.Lock()
	req := c.requests[0]
	c.mu.Unlock()

	if req.method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.method)
	}
	if req.contentType != "application/json" {
		t.Errorf("Content-Type = %q", req.contentType)
	}
	if req.requestID == "" || req.requestID != res.RequestID {
		t.Errorf("X-Request-ID = %q, result = %q", req.requestID, res.RequestID)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(req.body, &raw); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	for _, k := range []string{"device", "location", "ts", "ts_sec", "synced", "readings"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("payload missing %q", k)
		}
	}

	var got Batch
	if err := json.Unmarshal(req.body, &got); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if got.Device != "SUBSTATION_01" || got.Location != "UB" {
		t.Errorf("device/location = %q/%q", got.Device, got.Location)
	}
	if got.TS != fixed.UnixMilli() || got.TSSec != fixed.Unix() {
		t.Errorf("ts/ts_sec = %d/%d", got.TS, got.TSSec)
	}
	if !got.Synced {
		t.Error("synced = false")
	}
	if len(got.Readings) != len(readings) {
		t.Fatalf("len(readings) = %d, want %d", len(got.Readings), len(readings))
	}
	for i, r := range readings {
		w := got.Readings[i]
		if w.ID != r.ID || w.Name != r.Key || w.Value != r.Value || w.Unit != r.Unit {
			t.Errorf("reading %d = %+v, want %+v", i, w, r)
		}
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw["readings"], &entries); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	for i, e := range entries {
		for _, k := range []string{"id", "name", "v", "unit"} {
			if _, ok := e[k]; !ok {
				t.Errorf("reading %d missing %q", i, k)
			}
		}
	}
}

type recordingObserver struct {
	calls []bool
}

func (o *recordingObserver) ObserveSend(ok bool, _ int, _ time.Duration) {
	o.calls = append(o.calls, ok)
}

func TestSend_NotifiesObserver(t *testing.T) {
	c := &collector{status: func(n int) int {
		if n%2 == 0 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(c)
	defer srv.Close()

	tr := newTransmitter(srv.URL)
	obs := &recordingObserver{}
	tr.SetObserver(obs)

	for i := 0; i < 4; i++ {
		tr.Send(context.Background(), sampleReadings())
	}
	want := []bool{true, false, true, false}
	if len(obs.calls) != len(want) {
		t.Fatalf("observer calls = %v", obs.calls)
	}
	for i := range want {
		if obs.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, obs.calls[i], want[i])
		}
	}
	if st := tr.Stats(); st.SuccessRate != 50 || st.Total != 4 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestCounters_StatsEmpty(t *testing.T) {
	st := Counters{}.Stats()
	if st.Total != 0 || st.SuccessRate != 0 {
		t.Errorf("Stats = %+v", st)
	}
}
