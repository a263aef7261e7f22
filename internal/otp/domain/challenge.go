package domain

import "time"

// Challenge is one issued OTP for a signature request (stored in otp_challenges).
// Only a salted hash of the code is kept. A challenge is active until it is consumed by a
// successful verification or superseded by a newer issue.
type Challenge struct {
	ID           string
	RequestID    string
	CodeHash     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	AttemptCount int
	ConsumedAt   *time.Time
	SupersededAt *time.Time
}

// Active reports whether the challenge can still be verified (ignoring expiry).
func (c *Challenge) Active() bool {
	return c.ConsumedAt == nil && c.SupersededAt == nil
}

// Expired reports whether the challenge lifetime is over at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
