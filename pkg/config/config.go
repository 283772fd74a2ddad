package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Cache     CacheConfig     `yaml:"cache"`
	Security  SecurityConfig  `yaml:"security"`
	Store     StoreConfig     `yaml:"store"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Index     IndexConfig     `yaml:"index"`
	Network   NetworkConfig   `yaml:"network"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClientConfig identifies the client instance owning the cache
type ClientConfig struct {
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
}

// CacheConfig contains the eviction policy tunables
type CacheConfig struct {
	Strategy           string        `yaml:"strategy"`             // lru, lfu, fifo, size, priority, adaptive
	MaxSize            string        `yaml:"max_size"`             // e.g. "64MB"
	MaxCount           int           `yaml:"max_count"`
	ReductionTarget    float64       `yaml:"reduction_target"`     // fraction of budget reclaimed per pass
	TTLExtensionFactor float64       `yaml:"ttl_extension_factor"` // adaptive TTL growth per pass
	PriorityWeight     float64       `yaml:"priority_weight"`
	DefaultTTL         time.Duration `yaml:"default_ttl"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
}

// SecurityConfig controls encryption and integrity protection
type SecurityConfig struct {
	EnableEncryption     bool     `yaml:"enable_encryption"`
	EncryptSensitiveOnly bool     `yaml:"encrypt_sensitive_only"`
	EnableIntegrityCheck bool     `yaml:"enable_integrity_check"`
	SensitiveKeyTerms    []string `yaml:"sensitive_key_terms"` // appended to the built-in terms
	MasterSecret         string   `yaml:"master_secret"`       // seals the persisted key ring
	EagerReencrypt       bool     `yaml:"eager_reencrypt"`     // re-encrypt everything on key rotation
}

// StoreConfig selects the persistent backing store
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, badger, sqlite
	Path   string `yaml:"path"`   // defaults under client.data_dir
}

// PrefetchConfig controls predictive warm-up of likely next keys
type PrefetchConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BatchSize        int           `yaml:"batch_size"`
	LowPriorityDelay time.Duration `yaml:"low_priority_delay"` // pacing between prefetch batches
	QueueSize        int           `yaml:"queue_size"`
}

// TelemetryConfig sizes the in-memory operation ledger
type TelemetryConfig struct {
	LedgerSize int `yaml:"ledger_size"` // 100..1000 retained events
}

// IndexConfig controls debounced metadata snapshot persistence
type IndexConfig struct {
	FlushEvery    int           `yaml:"flush_every"`    // mutations per forced flush
	FlushInterval time.Duration `yaml:"flush_interval"` // ceiling between flushes
}

// NetworkConfig tunes reachability signal debouncing
type NetworkConfig struct {
	IgnoreWithin time.Duration `yaml:"ignore_within"` // drop flaps inside this window
	SettleAfter  time.Duration `yaml:"settle_after"`  // stability required before applying
}

// OptimizerConfig schedules background optimization passes
type OptimizerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`          // debug, info, warn, error, fatal
	EnableConsole bool   `yaml:"enable_console"` // Enable console output
	EnableFile    bool   `yaml:"enable_file"`    // Enable file output
	LogFile       string `yaml:"log_file"`       // Log file path
	BufferSize    int    `yaml:"buffer_size"`    // Async log buffer size
	LogDir        string `yaml:"log_dir"`        // Log directory
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Set defaults
	config := &Config{
		Client: ClientConfig{
			ID:      "pocketcache-client",
			DataDir: "data",
		},
		Cache: CacheConfig{
			Strategy:           "adaptive",
			MaxSize:            "64MB",
			MaxCount:           5000,
			ReductionTarget:    0.2,
			TTLExtensionFactor: 1.5,
			PriorityWeight:     0.1,
			DefaultTTL:         time.Hour,
			CleanupInterval:    time.Minute,
		},
		Security: SecurityConfig{
			EnableEncryption:     true,
			EncryptSensitiveOnly: true,
			EnableIntegrityCheck: true,
			SensitiveKeyTerms:    []string{},
			MasterSecret:         "",
			EagerReencrypt:       false,
		},
		Store: StoreConfig{
			Driver: "badger",
			Path:   "",
		},
		Prefetch: PrefetchConfig{
			Enabled:          true,
			BatchSize:        5,
			LowPriorityDelay: 500 * time.Millisecond,
			QueueSize:        64,
		},
		Telemetry: TelemetryConfig{
			LedgerSize: 512,
		},
		Index: IndexConfig{
			FlushEvery:    32,
			FlushInterval: 5 * time.Second,
		},
		Network: NetworkConfig{
			IgnoreWithin: 500 * time.Millisecond,
			SettleAfter:  300 * time.Millisecond,
		},
		Optimizer: OptimizerConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			LogFile:       "",
			BufferSize:    1000,
			LogDir:        "logs",
		},
	}

	// Try to read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Client.ID == "" {
		return fmt.Errorf("client.id cannot be empty")
	}
	if !isValidStrategy(c.Cache.Strategy) {
		return fmt.Errorf("invalid eviction strategy: %s", c.Cache.Strategy)
	}
	maxSize, err := ParseSize(c.Cache.MaxSize)
	if err != nil {
		return fmt.Errorf("invalid cache.max_size: %w", err)
	}
	if maxSize <= 0 {
		return fmt.Errorf("cache.max_size must be greater than 0")
	}
	if c.Cache.MaxCount <= 0 {
		return fmt.Errorf("cache.max_count must be greater than 0")
	}
	if c.Cache.ReductionTarget < 0 || c.Cache.ReductionTarget > 1 {
		return fmt.Errorf("cache.reduction_target must be between 0.0 and 1.0")
	}
	if c.Cache.TTLExtensionFactor < 1 {
		return fmt.Errorf("cache.ttl_extension_factor must be >= 1.0")
	}
	if c.Cache.PriorityWeight < 0 || c.Cache.PriorityWeight > 1 {
		return fmt.Errorf("cache.priority_weight must be between 0.0 and 1.0")
	}
	if !isValidStoreDriver(c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}
	if c.Telemetry.LedgerSize < 100 || c.Telemetry.LedgerSize > 1000 {
		return fmt.Errorf("telemetry.ledger_size must be between 100 and 1000")
	}
	if c.Prefetch.Enabled && c.Prefetch.BatchSize < 1 {
		return fmt.Errorf("prefetch.batch_size must be >= 1")
	}
	if c.Index.FlushEvery < 1 {
		return fmt.Errorf("index.flush_every must be >= 1")
	}
	if c.Network.IgnoreWithin <= 0 || c.Network.SettleAfter <= 0 {
		return fmt.Errorf("network debounce windows must be greater than 0")
	}
	return nil
}

// MaxSizeBytes returns the parsed cache size budget.
func (c *Config) MaxSizeBytes() int64 {
	size, err := ParseSize(c.Cache.MaxSize)
	if err != nil {
		return 0
	}
	return size
}

// StorePath returns the backing store location, derived from the data
// directory when not configured explicitly.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return fmt.Sprintf("%s/%s", c.Client.DataDir, c.Store.Driver)
}

// isValidStrategy checks if the eviction strategy is supported
func isValidStrategy(strategy string) bool {
	validStrategies := map[string]bool{
		"lru":      true, // Least Recently Used
		"lfu":      true, // Least Frequently Used
		"fifo":     true, // First In First Out
		"size":     true, // Largest entries first
		"priority": true, // Low priority first
		"adaptive": true, // Composite scoring
	}
	return validStrategies[strategy]
}

// isValidStoreDriver checks if the backing store driver is supported
func isValidStoreDriver(driver string) bool {
	validDrivers := map[string]bool{
		"memory": true,
		"badger": true,
		"sqlite": true,
	}
	return validDrivers[driver]
}

// ParseSize converts human-readable size strings (e.g. "64MB") into bytes.
func ParseSize(sizeStr string) (int64, error) {
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multipliers := map[string]int64{
		"B":  1,
		"KB": 1024,
		"MB": 1024 * 1024,
		"GB": 1024 * 1024 * 1024,
	}

	var size int64
	var unit string

	n, err := fmt.Sscanf(sizeStr, "%d%s", &size, &unit)
	if err != nil || n != 2 {
		// Bare numbers are taken as bytes
		if _, bareErr := fmt.Sscanf(sizeStr, "%d", &size); bareErr == nil {
			return size, nil
		}
		return 0, fmt.Errorf("invalid size format %q", sizeStr)
	}

	multiplier, exists := multipliers[unit]
	if !exists {
		return 0, fmt.Errorf("unknown size unit %q in %q", unit, sizeStr)
	}

	return size * multiplier, nil
}
