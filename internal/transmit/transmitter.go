// Package transmit delivers reading batches to the collector over HTTP.
//
// Send never returns an error to its caller: every outcome, including
// transport failures, is folded into a Result and counted. Failed batches are
// dropped; there is no retry or queue.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"substation-sim/internal/sensor"
)

const DefaultTimeout = 5 * time.Second

// ErrRejected wraps every non-200 collector response.
var ErrRejected = errors.New("collector rejected batch")

type Options struct {
	DeviceID  string
	Location  string
	TargetURL string
	Timeout   time.Duration
}

// Observer is notified after every send attempt.
type Observer interface {
	ObserveSend(ok bool, statusCode int, d time.Duration)
}

// Result describes one send attempt. StatusCode is zero when no response was
// received; Err is set for every failure.
type Result struct {
	OK         bool
	StatusCode int
	Err        error
	RequestID  string
	Duration   time.Duration
}

type Counters struct {
	Success int64
	Failed  int64
}

type Stats struct {
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	Total       int64   `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

type Transmitter struct {
	opts     Options
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	success atomic.Int64
	failed  atomic.Int64
}

// New returns a Transmitter posting to opts.TargetURL. A nil client gets one
// with opts.Timeout (DefaultTimeout when unset).
func New(opts Options, client *http.Client, logger *slog.Logger) *Transmitter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		opts:   opts,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Transmitter) SetObserver(o Observer) { t.observer = o }

// Send posts one batch built from readings and records the outcome.
func (t *Transmitter) Send(ctx context.Context, readings []sensor.Reading) Result {
	start := time.Now()
	res := t.send(ctx, NewBatch(t.opts.DeviceID, t.opts.Location, t.now(), readings))
	res.Duration = time.Since(start)

	if res.OK {
		t.success.Add(1)
		t.logger.Info("batch sent",
			"readings", len(readings),
			"status", res.StatusCode,
			"request_id", res.RequestID,
			"duration_ms", res.Duration.Milliseconds(),
		)
	} else {
		t.failed.Add(1)
		t.logger.Error("batch send failed",
			"readings", len(readings),
			"status", res.StatusCode,
			"request_id", res.RequestID,
			"error", res.Err,
		)
	}
	if t.observer != nil {
		t.observer.ObserveSend(res.OK, res.StatusCode, res.Duration)
	}
	return res
}

func (t *Transmitter) send(ctx context.Context, b Batch) Result {
	res := Result{RequestID: uuid.NewString()}

	body, err := json.Marshal(b)
	if err != nil {
		res.Err = fmt.Errorf("marshal batch: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.TargetURL, bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", res.RequestID)

	resp, err := t.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("post batch: %w", err)
		return res
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
		return res
	}
	res.OK = true
	return res
}

func (t *Transmitter) Counters() Counters {
	return Counters{Success: t.success.Load(), Failed: t.failed.Load()}
}

func (t *Transmitter) Stats() Stats {
	c := t.Counters()
	return c.Stats()
}

func (c Counters) Stats() Stats {
	total := c.Success + c.Failed
	rate := 0.0
	if total > 0 {
		rate = sensor.Round2(float64(c.Success) / float64(total) * 100)
	}
	return Stats{
		Success:     c.Success,
		Failed:      c.Failed,
		Total:       total,
		SuccessRate: rate,
	}
}
