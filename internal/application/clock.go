package application

import "time"

// Clock interface supaya gampang ditest. Ingestion timestamps and signed URL
// expiry both read the time through it.
type Clock interface {
	Now() time.Time
}

// SystemClock implementasi default, pakai time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
