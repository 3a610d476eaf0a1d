package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Ring reaper backstop: sweeps ringing rows whose in-process timer died with
// its process. Grace keeps the reaper from racing a live timer.
const (
	RingReaperInterval = 1 * time.Minute
	RingReaperGrace    = 15 * time.Second
)
