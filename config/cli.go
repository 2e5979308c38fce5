package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Cli struct {
	HTTPAddress string
	PromPort    int
	PprofPort   int
	APIToken    string
	PublicURL   string

	// cache store
	CacheRoot          string
	CacheMaxBytes      int64
	CacheTargetRatio   float64
	CacheMinAge        time.Duration
	PruneInterval      time.Duration
	PruneOnSession     bool
	CacheSchemaVersion int

	// sessions and tokens
	TokenSecret           string
	SessionTTL            time.Duration
	TokenTTL              time.Duration
	SoftExpiryWindow      time.Duration
	StartupWindow         time.Duration
	ReadinessPollInterval time.Duration
	RetryAfter            time.Duration
	SweepInterval         time.Duration

	// collaborators
	CatalogDBConnectionString string
	RedisURL                  string
	RedisClusterAddrs         []string
	FFmpegPath                string
	FFprobePath               string
	LossyBitrateKbps          int
	SegmentSeconds            int
	BuildTimeout              time.Duration
	MaxInFlightBuilds         int
}

// UseSharedStore reports whether session records, cache references and build locks live in Redis
// rather than in process memory.
func (cli *Cli) UseSharedStore() bool {
	return cli.RedisURL != "" || len(cli.RedisClusterAddrs) > 0
}

func (cli *Cli) Validate() error {
	if cli.CacheRoot == "" {
		return fmt.Errorf("cache-root must be set")
	}
	if cli.CacheTargetRatio <= 0 || cli.CacheTargetRatio >= 1 {
		return fmt.Errorf("cache-target-ratio must be between 0 and 1, got %v", cli.CacheTargetRatio)
	}
	if cli.TokenSecret == "" {
		return fmt.Errorf("token-secret must be set")
	}
	if cli.CacheSchemaVersion < 0 {
		return fmt.Errorf("cache-schema-version must not be negative")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"session-ttl", cli.SessionTTL},
		{"startup-window", cli.StartupWindow},
		{"readiness-poll-interval", cli.ReadinessPollInterval},
		{"sweep-interval", cli.SweepInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

// AddrFlag is a flag that accepts only host:port pairs
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		_, _, err := net.SplitHostPort(s)
		if err != nil {
			return err
		}
		*dest = s
		return nil
	})
}

// CommaSliceFlag handles a comma-separated list of strings
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}

// ByteSizeFlag accepts plain byte counts or counts suffixed with K, M, G or T (powers of 1024)
func ByteSizeFlag(fs *flag.FlagSet, dest *int64, name string, value int64, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		n, err := ParseByteSize(s)
		if err != nil {
			return err
		}
		*dest = n
		return nil
	})
}

func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
	case 'M':
		multiplier = 1 << 20
	case 'G':
		multiplier = 1 << 30
	case 'T':
		multiplier = 1 << 40
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("byte size must not be negative: %d", n)
	}
	return n * multiplier, nil
}

// InvertedBool is a flag.Value that flips whatever it is given. Used by InvertedBoolFlag.
type InvertedBool struct {
	Value *bool
}

func (f InvertedBool) String() string {
	if f.Value == nil {
		return ""
	}
	return strconv.FormatBool(*f.Value)
}

func (f InvertedBool) Set(value string) error {
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	*f.Value = !boolValue
	return nil
}

func (f InvertedBool) IsBoolFlag() bool {
	return true
}

// InvertedBoolFlag registers a "-no-<name>" flag that sets dest to false when passed
func InvertedBoolFlag(fs *flag.FlagSet, dest *bool, name string, value bool, usage string) {
	*dest = value
	fs.Var(InvertedBool{Value: dest}, fmt.Sprintf("no-%s", name), usage)
}
