package httpapi

import "time"

// Config defines relay server settings.
type Config struct {
	Addr       string
	BasePath   string
	Heartbeat  time.Duration
	BatchLines int
	Gzip       bool
}
