// Package config resolves the engine's environment-driven settings (IDM_DB,
// IDM_DOWNLOAD_DIR, IDM_MAX_ACTIVE) and the per-engine RuntimeConfig that
// tunes the net client, segmenter, throttle and worker, following the
// teacher's "defaults struct + override" shape (config.DefaultSettings /
// Settings.ToRuntimeConfig).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Settings holds the engine's environment-resolved configuration.
type Settings struct {
	DBPath         string // IDM_DB
	DownloadDir    string // IDM_DOWNLOAD_DIR
	MaxActiveTasks int    // IDM_MAX_ACTIVE

	Connections ConnectionSettings
	Chunks      ChunkSettings
	Performance PerformanceSettings
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxConnectionsPerHost int
	MaxGlobalConnections  int
	UserAgent             string
	ProxyURL              string
	ConnectTimeout        time.Duration
	IdleReadTimeout       time.Duration
}

// ChunkSettings bounds the segmenter's chunk sizing.
type ChunkSettings struct {
	MinChunkSize     int64
	WorkerBufferSize int
}

// PerformanceSettings tunes retry, mirror, and worker-health behavior.
type PerformanceSettings struct {
	MaxAttemptsPerSegment int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	SplitMaxDepth         int
	SlowWorkerThreshold   float64
	SlowWorkerGracePeriod time.Duration
	StallTimeout          time.Duration
	SpeedEmaAlpha         float64
	CommitInterval        time.Duration
	ShutdownGrace         time.Duration
}

// DefaultSettings returns the baseline configuration before environment
// overrides are applied.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		DBPath:         filepath.Join(homeDir, ".idm-open", "idm.db"),
		DownloadDir:    filepath.Join(homeDir, "Downloads"),
		MaxActiveTasks: 3,
		Connections: ConnectionSettings{
			MaxConnectionsPerHost: 16,
			MaxGlobalConnections:  100,
			UserAgent:             "",
			ConnectTimeout:        15 * time.Second,
			IdleReadTimeout:       30 * time.Second,
		},
		Chunks: ChunkSettings{
			MinChunkSize:     2 * MB,
			WorkerBufferSize: 64 * KB,
		},
		Performance: PerformanceSettings{
			MaxAttemptsPerSegment: 6,
			RetryBaseDelay:        1 * time.Second,
			RetryMaxDelay:         60 * time.Second,
			SplitMaxDepth:         3,
			SlowWorkerThreshold:   0.3,
			SlowWorkerGracePeriod: 5 * time.Second,
			StallTimeout:          30 * time.Second,
			SpeedEmaAlpha:         0.3,
			CommitInterval:        500 * time.Millisecond,
			ShutdownGrace:         5 * time.Second,
		},
	}
}

// LoadSettings returns DefaultSettings with IDM_DB/IDM_DOWNLOAD_DIR/
// IDM_MAX_ACTIVE applied on top, per the engine's environment contract. It
// never fails: a malformed IDM_MAX_ACTIVE is ignored and the default stands.
func LoadSettings() *Settings {
	s := DefaultSettings()

	if v := os.Getenv("IDM_DB"); v != "" {
		s.DBPath = v
	}
	if v := os.Getenv("IDM_DOWNLOAD_DIR"); v != "" {
		s.DownloadDir = v
	}
	if v := os.Getenv("IDM_MAX_ACTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxActiveTasks = n
		}
	}

	return s
}

// RuntimeConfig is the flattened view handed to the net client, segmenter,
// throttle and worker packages, mirroring the teacher's
// downloader.RuntimeConfig accessor-method idiom.
type RuntimeConfig struct {
	MaxConnectionsPerHost int
	MaxGlobalConnections  int
	UserAgent             string
	ProxyURL              string
	ConnectTimeout        time.Duration
	IdleReadTimeout       time.Duration
	MinChunkSize          int64
	WorkerBufferSize      int
	MaxAttemptsPerSegment int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	SplitMaxDepth         int
	SlowWorkerThreshold   float64
	SlowWorkerGracePeriod time.Duration
	StallTimeout          time.Duration
	SpeedEmaAlpha         float64
	CommitInterval        time.Duration
	ShutdownGrace         time.Duration
}

// ToRuntimeConfig flattens Settings into a RuntimeConfig.
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxConnectionsPerHost: s.Connections.MaxConnectionsPerHost,
		MaxGlobalConnections:  s.Connections.MaxGlobalConnections,
		UserAgent:             s.Connections.UserAgent,
		ProxyURL:              s.Connections.ProxyURL,
		ConnectTimeout:        s.Connections.ConnectTimeout,
		IdleReadTimeout:       s.Connections.IdleReadTimeout,
		MinChunkSize:          s.Chunks.MinChunkSize,
		WorkerBufferSize:      s.Chunks.WorkerBufferSize,
		MaxAttemptsPerSegment: s.Performance.MaxAttemptsPerSegment,
		RetryBaseDelay:        s.Performance.RetryBaseDelay,
		RetryMaxDelay:         s.Performance.RetryMaxDelay,
		SplitMaxDepth:         s.Performance.SplitMaxDepth,
		SlowWorkerThreshold:   s.Performance.SlowWorkerThreshold,
		SlowWorkerGracePeriod: s.Performance.SlowWorkerGracePeriod,
		StallTimeout:          s.Performance.StallTimeout,
		SpeedEmaAlpha:         s.Performance.SpeedEmaAlpha,
		CommitInterval:        s.Performance.CommitInterval,
		ShutdownGrace:         s.Performance.ShutdownGrace,
	}
}

// GetUserAgent returns the configured UA or the package default.
func (c *RuntimeConfig) GetUserAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "idm-open/1.0"
}

// GetMaxConnectionsPerHost returns the configured cap or a safe default.
func (c *RuntimeConfig) GetMaxConnectionsPerHost() int {
	if c.MaxConnectionsPerHost > 0 {
		return c.MaxConnectionsPerHost
	}
	return 16
}
