package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by Default.
const (
	DefaultEndpoint        = "https://lichess.org/fishnet"
	defaultHashMB          = 64
	defaultGrace           = 10 * time.Second
	defaultStopTimeout     = 2 * time.Second
	defaultLivenessTimeout = 30 * time.Second
	defaultSubmitAttempts  = 5

	// Minimum queue age requested for "long" backlogs.
	longUserBacklog   = time.Hour
	longSystemBacklog = 2 * time.Hour
)

// Backlog is a threshold for one job class. Wait asks the server to only
// assign jobs that have been queued at least that long; Size caps the number
// of jobs of the class this worker runs at once (0 = no cap).
type Backlog struct {
	Wait time.Duration
	Size int
}

// Config holds the worker settings that the core consumes read-only.
type Config struct {
	Key             string
	Endpoint        string
	Cores           int
	UserBacklog     Backlog
	SystemBacklog   Backlog
	EngineBin       string
	MultiVariantBin string
	VariantRules    string
	HashMB          int
	Grace           time.Duration
	StopTimeout     time.Duration
	LivenessTimeout time.Duration
	SubmitAttempts  int
	StatusAddr      string
	CORSOrigins     []string
}

// Default returns a Config with every optional field populated.
func Default() Config {
	cores, _ := ParseCores("auto")
	return Config{
		Endpoint:        DefaultEndpoint,
		Cores:           cores,
		HashMB:          defaultHashMB,
		Grace:           defaultGrace,
		StopTimeout:     defaultStopTimeout,
		LivenessTimeout: defaultLivenessTimeout,
		SubmitAttempts:  defaultSubmitAttempts,
	}
}

// Keys lists the accepted setting names in canonical form.
var Keys = []string{
	"key", "endpoint", "cores", "user_backlog", "system_backlog",
	"engine_bin", "multi_variant_bin", "variant_rules", "hash_mb",
	"grace", "stop_timeout", "liveness_timeout", "submit_attempts",
	"status_addr", "cors_origins",
}

// canonicalKey folds "UserBacklog", "user-backlog" and "user_backlog" together.
func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer("_", "", "-", "").Replace(k)
	return k
}

// Set assigns one setting from its textual form. Files, environment and
// flags all funnel through here.
func (c *Config) Set(key, value string) error {
	v := strings.TrimSpace(value)
	var err error
	switch canonicalKey(key) {
	case "key", "apikey":
		c.Key = v
	case "endpoint":
		c.Endpoint = strings.TrimRight(v, "/")
	case "cores":
		c.Cores, err = ParseCores(v)
	case "userbacklog":
		c.UserBacklog, err = ParseBacklog(v, longUserBacklog)
	case "systembacklog":
		c.SystemBacklog, err = ParseBacklog(v, longSystemBacklog)
	case "enginebin", "stockfishcommand":
		c.EngineBin = v
	case "multivariantbin":
		c.MultiVariantBin = v
	case "variantrules", "variantpath":
		c.VariantRules = v
	case "hashmb", "memory":
		c.HashMB, err = parsePositive(v)
	case "grace":
		c.Grace, err = parseDuration(v)
	case "stoptimeout":
		c.StopTimeout, err = parseDuration(v)
	case "livenesstimeout":
		c.LivenessTimeout, err = parseDuration(v)
	case "submitattempts":
		c.SubmitAttempts, err = parsePositive(v)
	case "statusaddr":
		c.StatusAddr = v
	case "corsorigins":
		c.CORSOrigins = splitList(v)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Validate reports settings the worker cannot start with.
func (c Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("missing key")
	}
	for _, r := range c.Key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("key must be alphanumeric")
		}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an http(s) url: %q", c.Endpoint)
	}
	if c.Cores < 1 {
		return fmt.Errorf("cores must be at least 1")
	}
	if c.HashMB < 1 || c.SubmitAttempts < 1 {
		return fmt.Errorf("hash_mb and submit_attempts must be positive")
	}
	if c.Grace <= 0 || c.StopTimeout <= 0 || c.LivenessTimeout <= 0 {
		return fmt.Errorf("grace, stop_timeout and liveness_timeout must be positive")
	}
	return nil
}

// ParseCores accepts a positive integer, "auto" (all but one CPU) or "all".
func ParseCores(s string) (int, error) {
	n := runtime.NumCPU()
	switch strings.ToLower(s) {
	case "auto", "":
		return max(1, n-1), nil
	case "all":
		return n, nil
	}
	return parsePositive(s)
}

// ParseBacklog accepts "short", "long", a duration ("30m", "0") or a job
// count ("4").
func ParseBacklog(s string, long time.Duration) (Backlog, error) {
	switch strings.ToLower(s) {
	case "short", "", "0":
		return Backlog{}, nil
	case "long":
		return Backlog{Wait: long}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Backlog{}, fmt.Errorf("negative backlog %d", n)
		}
		return Backlog{Size: n}, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return Backlog{}, err
	}
	return Backlog{Wait: d}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive: %d", n)
	}
	return n, nil
}

// parseDuration also accepts a bare number of seconds, as the ini format
// historically used.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
