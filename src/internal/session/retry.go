package session

import "time"

// DefaultRetryDelay is the pause before a tunnel is rebuilt.
const DefaultRetryDelay = 2 * time.Second

// RetryPolicy decides how long to wait before rebuilding the tunnel. attempt
// counts consecutive failed starts and is zero for a plain reconnect. A
// negative delay gives up and stops the session.
type RetryPolicy interface {
	NextDelay(attempt int, cause error) time.Duration
}

// FixedDelay retries forever with the same pause.
type FixedDelay time.Duration

func (d FixedDelay) NextDelay(int, error) time.Duration {
	if d <= 0 {
		return DefaultRetryDelay
	}
	return time.Duration(d)
}
