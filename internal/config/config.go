package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"substation-sim/internal/sensor"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	LogFile  string

	DeviceID       string
	DeviceLocation string
	CollectorURL   string
	SendInterval   time.Duration
	SendTimeout    time.Duration
	RandomSeed     uint64
	// MaxIterations stops the run after that many ticks; zero runs until signalled.
	MaxIterations int64

	Sensors []sensor.Definition

	// StatusAddr enables the local /healthz, /stats and /metrics server when non-empty.
	StatusAddr string

	// MQTT mirror; disabled when MQTTBroker is empty.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// SensorLookupURL enables collector sensor-id resolution when non-empty.
	SensorLookupURL string
	SQLitePath      string
	SQLiteDSN       string
	SQLiteLogSQL    bool
}

func (c Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	deviceID := strings.TrimSpace(os.Getenv("DEVICE_ID"))
	if deviceID == "" {
		deviceID = "SUBSTATION_01"
	}

	location := strings.TrimSpace(os.Getenv("DEVICE_LOCATION"))
	if location == "" {
		location = "Улаанбаатар, Сүхбаатар дүүрэг"
	}

	collectorURL := strings.TrimSpace(os.Getenv("COLLECTOR_URL"))
	if collectorURL == "" {
		collectorURL = "http://localhost:3000/api/readings/batch"
	}
	if err := validateHTTPURL(collectorURL); err != nil {
		return Config{}, fmt.Errorf("invalid COLLECTOR_URL %q: %w", collectorURL, err)
	}

	sendIntervalStr := strings.TrimSpace(os.Getenv("SEND_INTERVAL"))
	if sendIntervalStr == "" {
		sendIntervalStr = "3s"
	}
	sendInterval, err := parseSeconds(sendIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SEND_INTERVAL %q: %w", sendIntervalStr, err)
	}
	if sendInterval < 0 {
		return Config{}, fmt.Errorf("SEND_INTERVAL must not be negative, got %v", sendInterval)
	}

	sendTimeoutStr := strings.TrimSpace(os.Getenv("SEND_TIMEOUT"))
	if sendTimeoutStr == "" {
		sendTimeoutStr = "5s"
	}
	sendTimeout, err := parseSeconds(sendTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SEND_TIMEOUT %q: %w", sendTimeoutStr, err)
	}
	if sendTimeout <= 0 {
		return Config{}, fmt.Errorf("SEND_TIMEOUT must be positive, got %v", sendTimeout)
	}

	var seed uint64
	if s := strings.TrimSpace(os.Getenv("RANDOM_SEED")); s != "" {
		seed, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RANDOM_SEED %q: %w", s, err)
		}
	}

	var maxIter int64
	if s := strings.TrimSpace(os.Getenv("MAX_ITERATIONS")); s != "" {
		maxIter, err = strconv.ParseInt(s, 10, 64)
		if err != nil || maxIter < 0 {
			return Config{}, fmt.Errorf("invalid MAX_ITERATIONS %q", s)
		}
	}

	sensors := DefaultSensors()
	if path := strings.TrimSpace(os.Getenv("SENSORS_FILE")); path != "" {
		sensors, err = LoadSensorOverrides(path, sensors)
		if err != nil {
			return Config{}, err
		}
	}
	if err := sensor.Table(sensors); err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "substation-sim-" + strings.ToLower(deviceID)
	}

	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = fmt.Sprintf("substations/%s/telemetry", deviceID)
	}

	lookupURL := strings.TrimSpace(os.Getenv("SENSOR_LOOKUP_URL"))
	if lookupURL != "" {
		if err := validateHTTPURL(lookupURL); err != nil {
			return Config{}, fmt.Errorf("invalid SENSOR_LOOKUP_URL %q: %w", lookupURL, err)
		}
	}

	statusAddr := strings.TrimSpace(os.Getenv("STATUS_ADDR"))
	if statusAddr != "" {
		if err := validateListenAddr(statusAddr); err != nil {
			return Config{}, fmt.Errorf("invalid STATUS_ADDR %q: %w", statusAddr, err)
		}
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "data/substation.db"
	}

	sqliteLogSQL := false
	if s := strings.TrimSpace(os.Getenv("SQLITE_LOG_SQL")); s != "" {
		sqliteLogSQL, err = strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SQLITE_LOG_SQL %q: %w", s, err)
		}
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		LogFile:         strings.TrimSpace(os.Getenv("LOG_FILE")),
		DeviceID:        deviceID,
		DeviceLocation:  location,
		CollectorURL:    collectorURL,
		SendInterval:    sendInterval,
		SendTimeout:     sendTimeout,
		RandomSeed:      seed,
		MaxIterations:   maxIter,
		Sensors:         sensors,
		StatusAddr:      statusAddr,
		MQTTBroker:      mqttBroker,
		MQTTPort:        mqttPort,
		MQTTClientID:    mqttClientID,
		MQTTTopic:       mqttTopic,
		SensorLookupURL: lookupURL,
		SQLitePath:      sqlitePath,
		SQLiteDSN:       strings.TrimSpace(os.Getenv("SQLITE_DSN")),
		SQLiteLogSQL:    sqliteLogSQL,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// parseSeconds accepts a Go duration ("1500ms") or a bare number of seconds ("3", "0.5").
func parseSeconds(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// validateListenAddr accepts host:port where port is numeric and host may be
// empty (all interfaces).
func validateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port %q is not a number", port)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}
