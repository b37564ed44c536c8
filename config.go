package strata

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the default maximum memtable size in bytes before
	// a flush is triggered.
	DefaultThreshold = 3000
	// DefaultSparsityFactor controls how densely the sparse index samples
	// flushed records: sparsity = threshold / sparsityFactor.
	DefaultSparsityFactor = 100
	// DefaultSegmentPrefix names segment files "<prefix>-<N>".
	DefaultSegmentPrefix = "segment"
	// DefaultWALFilename is the WAL file's name inside the segments directory.
	DefaultWALFilename = "wal.log"
	// DefaultMetadataFilename is the metadata snapshot's name.
	DefaultMetadataFilename = "database_metadata"
	// defaultBloomFalsePositive is the default target false-positive rate.
	defaultBloomFalsePositive = 0.01
	// defaultBloomNumItems is the default expected item count used to size
	// the bloom filter's bit array before any key has been observed.
	defaultBloomNumItems = 10000
)

// Config contains database settings, updated with ConfigOption functions,
// following the teacher's functional-options pattern (config.go).
type Config struct {
	threshold       int
	sparsityFactor  int
	segmentPrefix   string
	walFilename     string
	metadataName    string
	bloomFalsePos   float64
	bloomNumItems   int
	syncEveryAppend bool
	walRetries      int
	logger          *zap.SugaredLogger
	metrics         *engineMetrics
}

func defaultConfig() Config {
	return Config{
		threshold:       DefaultThreshold,
		sparsityFactor:  DefaultSparsityFactor,
		segmentPrefix:   DefaultSegmentPrefix,
		walFilename:     DefaultWALFilename,
		metadataName:    DefaultMetadataFilename,
		bloomFalsePos:   defaultBloomFalsePositive,
		bloomNumItems:   defaultBloomNumItems,
		syncEveryAppend: true,
		walRetries:      3,
		logger:          zap.NewNop().Sugar(),
		metrics:         newEngineMetrics(),
	}
}

// sparsity is the record-count interval between sampled sparse-index
// entries during flush and index repopulation: threshold / sparsityFactor
// records apart. (spec §4.6.1 describes this as a byte interval, but the
// worked example in §8 only holds if it is read as a record count; see
// DESIGN.md.)
func (c Config) sparsity() int {
	if c.sparsityFactor <= 0 {
		return c.threshold
	}
	s := c.threshold / c.sparsityFactor
	if s < 1 {
		s = 1
	}
	return s
}

// ConfigOption mutates default database settings.
type ConfigOption func(*Config)

// WithThreshold sets the maximum memtable size in bytes before a flush is
// triggered.
func WithThreshold(threshold int) ConfigOption {
	return func(c *Config) {
		c.threshold = threshold
	}
}

// WithSparsityFactor sets how densely the sparse index samples flushed
// records.
func WithSparsityFactor(factor int) ConfigOption {
	return func(c *Config) {
		c.sparsityFactor = factor
	}
}

// WithSegmentPrefix overrides the "<prefix>-<N>" segment filename prefix.
func WithSegmentPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.segmentPrefix = prefix
	}
}

// WithBloomParameters sets the bloom filter's target false-positive
// probability and expected item count.
func WithBloomParameters(falsePositive float64, numItems int) ConfigOption {
	return func(c *Config) {
		c.bloomFalsePos = falsePositive
		c.bloomNumItems = numItems
	}
}

// WithLogger injects a structured logger. Engine lifecycle events (open,
// flush, compact, close) are logged at Info; corruption that makes Open
// refuse to start is logged at Error. WAL append retries are not logged.
func WithLogger(logger *zap.SugaredLogger) ConfigOption {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWALSyncPolicy chooses whether every WAL append calls fsync (the
// default, and the only policy that satisfies "durable before append
// returns"), or whether appends rely on the OS page cache and are
// synced only on flush/close. The latter trades the durability boundary
// described in spec §9's open question for throughput; callers that
// choose it accept that an append acknowledged before a crash may be
// lost even though get() already reflects it in the pre-crash process.
func WithWALSyncPolicy(syncEveryAppend bool) ConfigOption {
	return func(c *Config) {
		c.syncEveryAppend = syncEveryAppend
	}
}

// WithWALRetries bounds how many times a transient WAL append failure is
// retried before it is surfaced to the caller.
func WithWALRetries(n int) ConfigOption {
	return func(c *Config) {
		if n > 0 {
			c.walRetries = n
		}
	}
}

// walRetryBackoff is the delay between bounded WAL append retries.
const walRetryBackoff = 5 * time.Millisecond
