package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

const (
	DefaultSessionTTL            = 2 * time.Minute
	DefaultTokenTTL              = 6 * time.Hour
	DefaultSoftExpiryWindow      = 10 * time.Minute
	DefaultStartupWindow         = 20 * time.Second
	DefaultReadinessPollInterval = 250 * time.Millisecond
	DefaultRetryAfter            = 1500 * time.Millisecond
	DefaultLossyBitrateKbps      = 320
)
