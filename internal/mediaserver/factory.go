package mediaserver

import "time"

// DefaultTimeout bounds every adapter call unless configured otherwise.
const DefaultTimeout = 30 * time.Second

// Config holds the connection settings for one media server.
type Config struct {
	Type    ServerType
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPTimeout returns the configured per-call timeout or the default.
func (c Config) HTTPTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
