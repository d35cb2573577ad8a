// Package app wires configuration into a running simulator.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"substation-sim/internal/config"
	"substation-sim/internal/httpapi"
	"substation-sim/internal/metrics"
	"substation-sim/internal/mqtt"
	"substation-sim/internal/registry"
	"substation-sim/internal/sensor"
	"substation-sim/internal/simulator"
	"substation-sim/internal/transmit"
)

// Run blocks until ctx is cancelled or the configured iteration limit is
// reached. The returned error is ctx.Err() on signal shutdown.
func Run(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) error {
	started := time.Now()

	logger.Info("substation simulator starting",
		"device", cfg.DeviceID,
		"location", cfg.DeviceLocation,
		"collector", cfg.CollectorURL,
		"interval", cfg.SendInterval.String(),
		"sensors", len(cfg.Sensors),
		"mqtt", cfg.MQTTEnabled(),
		"status_addr", cfg.StatusAddr,
	)

	// Bind before the loop so a bad or busy address fails startup.
	var ln net.Listener
	if cfg.StatusAddr != "" {
		var err error
		ln, err = net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}
	serving := false
	defer func() {
		if ln != nil && !serving {
			_ = ln.Close()
		}
	}()

	defs := resolveSensorIDs(ctx, cfg, logger)

	model, err := sensor.NewModel(defs, newSource(cfg.RandomSeed), time.Now)
	if err != nil {
		return err
	}

	tr := transmit.New(transmit.Options{
		DeviceID:  cfg.DeviceID,
		Location:  cfg.DeviceLocation,
		TargetURL: cfg.CollectorURL,
		Timeout:   cfg.SendTimeout,
	}, nil, logger)

	var sinks []simulator.Sink

	var m *metrics.Metrics
	if cfg.StatusAddr != "" {
		m = metrics.New(cfg.DeviceID, version)
		tr.SetObserver(m)
		sinks = append(sinks, m)
	}

	var wg sync.WaitGroup

	var mq *mqtt.Client
	if cfg.MQTTEnabled() {
		mq = mqtt.NewClient(cfg, logger)
		sinks = append(sinks, mq)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mq.Connect(ctx); err != nil {
				if !errors.Is(err, mqtt.ErrStopped) && !errors.Is(err, context.Canceled) {
					logger.Error("mqtt connect failed", "error", err)
				}
			}
		}()
	}

	sim := simulator.New(model, tr, simulator.Options{
		Interval:      cfg.SendInterval,
		MaxIterations: cfg.MaxIterations,
		Sinks:         sinks,
	}, logger)

	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	srvErr := make(chan error, 1)
	if ln != nil {
		mux := httpapi.NewMux(httpapi.Deps{
			DeviceID: cfg.DeviceID,
			Location: cfg.DeviceLocation,
			Started:  started,
			Status:   sim,
			Metrics:  m.Handler(),
		}, logger)
		srv := httpapi.NewServer(cfg.StatusAddr, mux, logger, m)
		serving = true
		go func() {
			err := srv.Serve(srvCtx, ln)
			if err != nil {
				logger.Error("status server failed", "error", err)
			}
			srvErr <- err
		}()
	} else {
		srvErr <- nil
	}

	_, runErr := sim.Run(ctx)

	if mq != nil {
		if mq.IsConnected() {
			if err := mq.PublishStatus(false); err != nil {
				logger.Warn("mqtt status publish failed", "error", err)
			}
		}
		mq.Disconnect()
		wg.Wait()
	}

	stopServer()
	if err := <-srvErr; err != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		runErr = fmt.Errorf("status server: %w", err)
	}

	logger.Info("substation simulator stopped", "uptime", time.Since(started).Round(time.Second).String())
	return runErr
}

// resolveSensorIDs replaces static sensor ids with the collector's when a
// lookup URL is configured. Any failure leaves the static ids in place.
func resolveSensorIDs(ctx context.Context, cfg config.Config, logger *slog.Logger) []sensor.Definition {
	if cfg.SensorLookupURL == "" {
		return cfg.Sensors
	}

	var store *registry.Store
	db, err := registry.Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("sensor id cache unavailable", "error", err)
	} else {
		defer func(db *sql.DB) {
			if err := registry.Close(db); err != nil {
				logger.Warn("sensor id cache close failed", "error", err)
			}
		}(db)
		store = registry.NewStore(db)
	}

	r := &registry.Resolver{URL: cfg.SensorLookupURL, Store: store, Logger: logger}
	defs, _, _ := r.Resolve(ctx, cfg.Sensors)
	return defs
}

// newSource returns a PCG generator. Seed zero draws a fresh seed.
func newSource(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
