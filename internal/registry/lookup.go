package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"substation-sim/internal/sensor"
)

const lookupTimeout = 10 * time.Second

var ErrLookupStatus = errors.New("sensor lookup: unexpected status")

// Source tells where resolved ids came from.
type Source string

const (
	SourceCollector Source = "collector"
	SourceCache     Source = "cache"
	SourceStatic    Source = "static"
)

// Fetch GETs the collector's sensor-object list.
func Fetch(ctx context.Context, client *http.Client, url string) ([]Entry, error) {
	if client == nil {
		client = &http.Client{Timeout: lookupTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sensor lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: HTTP %d", ErrLookupStatus, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode sensor list: %w", err)
	}
	return entries, nil
}

// Resolver assigns collector sensor ids to definitions by location id.
type Resolver struct {
	URL    string
	Client *http.Client
	// Store is optional; without it nothing is cached.
	Store  *Store
	Logger *slog.Logger
}

// Resolve returns a copy of defs with IDs replaced from the collector, or
// from the cache when the collector cannot be reached. Definitions without a
// match keep their static id. Resolve never fails the caller; the returned
// error only describes why the collector was not used.
func (r *Resolver) Resolve(ctx context.Context, defs []sensor.Definition) ([]sensor.Definition, Source, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := append([]sensor.Definition(nil), defs...)

	entries, fetchErr := Fetch(ctx, r.Client, r.URL)
	if fetchErr == nil {
		byLoc := make(map[int]Entry, len(entries))
		for _, e := range entries {
			byLoc[e.LocationID] = e
		}
		n := apply(out, byLoc)
		if r.Store != nil {
			if err := r.Store.Save(ctx, matched(out, byLoc)); err != nil {
				logger.Warn("sensor id cache write failed", "error", err)
			}
			r.record(ctx, logger, SourceCollector, n, nil)
		}
		logger.Info("sensor ids resolved", "source", SourceCollector, "matched", n, "listed", len(entries))
		return out, SourceCollector, nil
	}

	logger.Warn("sensor lookup failed", "url", r.URL, "error", fetchErr)

	if r.Store != nil {
		cached, err := r.Store.Load(ctx)
		if err != nil {
			logger.Warn("sensor id cache read failed", "error", err)
		} else if n := apply(out, cached); n > 0 {
			r.record(ctx, logger, SourceCache, n, fetchErr)
			logger.Info("sensor ids resolved", "source", SourceCache, "matched", n)
			return out, SourceCache, fetchErr
		}
		r.record(ctx, logger, SourceStatic, 0, fetchErr)
	}

	logger.Info("sensor ids resolved", "source", SourceStatic)
	return out, SourceStatic, fetchErr
}

func (r *Resolver) record(ctx context.Context, logger *slog.Logger, src Source, n int, err error) {
	if recErr := r.Store.RecordLookup(ctx, src, n, err); recErr != nil {
		logger.Warn("lookup log write failed", "error", recErr)
	}
}

func apply(defs []sensor.Definition, byLoc map[int]Entry) int {
	n := 0
	for i := range defs {
		if e, ok := byLoc[defs[i].LocationID]; ok {
			defs[i].ID = e.SensorID
			n++
		}
	}
	return n
}

func matched(defs []sensor.Definition, byLoc map[int]Entry) []Entry {
	var out []Entry
	for _, d := range defs {
		if e, ok := byLoc[d.LocationID]; ok {
			out = append(out, e)
		}
	}
	return out
}
