package unidb

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/unidb/dialect"
)

// DatabaseConfig describes one configured backend under one alias.
type DatabaseConfig struct {
	// Alias is the user-chosen name callers route operations by.
	Alias string `yaml:"alias"`
	// Backend is the backend tag: dialect.SQLite, dialect.MySQL,
	// dialect.Postgres or dialect.MongoDB.
	Backend string `yaml:"backend"`
	// Connection selects and configures the backend connection.
	Connection ConnectionSpec `yaml:"connection"`
	// Pool configures the per-alias worker runtime.
	Pool PoolConfig `yaml:"pool"`
	// IDStrategy declares how record IDs are produced and validated.
	IDStrategy IDStrategy `yaml:"id_strategy"`
	// SnowflakeDatacenterID and SnowflakeMachineID parameterise the
	// snowflake strategy and are ignored by the others.
	SnowflakeDatacenterID int64 `yaml:"snowflake_datacenter_id"`
	SnowflakeMachineID    int64 `yaml:"snowflake_machine_id"`
	// Cache optionally enables the read-through cache for this alias.
	Cache *CacheConfig `yaml:"cache"`
}

// Validate checks the configuration before a pool is built from it.
func (c *DatabaseConfig) Validate() error {
	if c.Alias == "" {
		return NewConfigError("database alias must not be empty")
	}
	switch c.Backend {
	case dialect.SQLite:
		if c.Connection.SQLite == nil {
			return NewConfigError(fmt.Sprintf("alias %q: sqlite backend requires a sqlite connection spec", c.Alias))
		}
		if c.Connection.SQLite.Path == "" {
			return NewConfigError(fmt.Sprintf("alias %q: sqlite path must not be empty", c.Alias))
		}
	case dialect.Postgres:
		if c.Connection.Postgres == nil {
			return NewConfigError(fmt.Sprintf("alias %q: postgres backend requires a postgres connection spec", c.Alias))
		}
	case dialect.MySQL:
		if c.Connection.MySQL == nil {
			return NewConfigError(fmt.Sprintf("alias %q: mysql backend requires a mysql connection spec", c.Alias))
		}
	case dialect.MongoDB:
		if c.Connection.MongoDB == nil {
			return NewConfigError(fmt.Sprintf("alias %q: mongodb backend requires a mongodb connection spec", c.Alias))
		}
	default:
		return NewUnsupportedDatabaseError(c.Backend)
	}
	return nil
}

// ConnectionSpec is the tagged union of backend connection settings.
// Exactly one member matching the backend tag must be set.
type ConnectionSpec struct {
	SQLite   *SQLiteSpec   `yaml:"sqlite,omitempty"`
	Postgres *PostgresSpec `yaml:"postgres,omitempty"`
	MySQL    *MySQLSpec    `yaml:"mysql,omitempty"`
	MongoDB  *MongoSpec    `yaml:"mongodb,omitempty"`
}

// SQLiteSpec configures the embedded file-backed backend.
type SQLiteSpec struct {
	// Path is the database file path.
	Path string `yaml:"path"`
	// CreateIfMissing creates the file on first open.
	CreateIfMissing bool `yaml:"create_if_missing"`
}

// PostgresSpec configures a postgres-style network backend.
type PostgresSpec struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	SSLMode  string     `yaml:"ssl_mode,omitempty"`
	TLS      *TLSConfig `yaml:"tls,omitempty"`
}

// MySQLSpec configures a mysql-style network backend.
type MySQLSpec struct {
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	Database   string            `yaml:"database"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	TLS        *TLSConfig        `yaml:"tls,omitempty"`
	SSLOptions map[string]string `yaml:"ssl_options,omitempty"`
}

// MongoSpec configures the document backend. The adapter composes the
// connection URI from these pieces.
type MongoSpec struct {
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	Database         string            `yaml:"database"`
	Username         string            `yaml:"username,omitempty"`
	Password         string            `yaml:"password,omitempty"`
	AuthSource       string            `yaml:"auth_source,omitempty"`
	DirectConnection bool              `yaml:"direct_connection"`
	TLS              *TLSConfig        `yaml:"tls,omitempty"`
	ZSTD             *ZSTDConfig       `yaml:"zstd,omitempty"`
	Options          map[string]string `yaml:"options,omitempty"`
}

// TLSConfig carries transport security settings.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ZSTDConfig enables wire compression on the document backend.
type ZSTDConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level,omitempty"`
}

// PoolConfig configures the per-alias worker runtime.
type PoolConfig struct {
	// MinConnections and MaxConnections bound the bounded-pool worker
	// count. The embedded backend always runs exactly one serializer
	// worker and ignores both.
	MinConnections int `yaml:"min_connections"`
	MaxConnections int `yaml:"max_connections"`
	// ConnectionTimeout bounds establishing a connection.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// IdleTimeout expires idle workers during maintenance.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// MaxLifetime recycles worker connections regardless of activity.
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	// OperationTimeout is the default per-operation driver timeout,
	// overridable per call through QueryOptions.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// SubmitTimeout bounds waiting for the serializer worker's channel to
	// accept an operation.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	// KeepAliveInterval paces the periodic connection probe.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	// RetryInterval is the base backoff interval of the reconnect loop.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// MaxRetries caps reconnect attempts before the worker gives up.
	MaxRetries int `yaml:"max_retries"`
}

// WithDefaults fills unset pool settings.
func (p PoolConfig) WithDefaults() PoolConfig {
	if p.MaxConnections <= 0 {
		p.MaxConnections = 8
	}
	if p.MinConnections <= 0 {
		p.MinConnections = 1
	}
	if p.MinConnections > p.MaxConnections {
		p.MinConnections = p.MaxConnections
	}
	if p.ConnectionTimeout <= 0 {
		p.ConnectionTimeout = 10 * time.Second
	}
	if p.OperationTimeout <= 0 {
		p.OperationTimeout = 30 * time.Second
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = 5 * time.Second
	}
	if p.KeepAliveInterval <= 0 {
		p.KeepAliveInterval = 60 * time.Second
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = time.Second
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 10
	}
	return p
}

// CacheStrategy selects the L1 eviction policy.
type CacheStrategy string

const (
	// CacheLRU evicts the least recently used entry.
	CacheLRU CacheStrategy = "lru"
	// CacheLFU evicts the least frequently used entry.
	CacheLFU CacheStrategy = "lfu"
	// CacheFIFO evicts the oldest entry.
	CacheFIFO CacheStrategy = "fifo"
)

// CacheConfig configures the optional two-tier read-through cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Strategy CacheStrategy `yaml:"strategy"`
	L1       L1Config      `yaml:"l1"`
	L2       *L2Config     `yaml:"l2,omitempty"`
	TTL      TTLConfig     `yaml:"ttl"`
	Perf     PerfConfig    `yaml:"performance"`
}

// L1Config bounds the in-memory tier.
type L1Config struct {
	MaxCapacity int `yaml:"max_capacity"`
	MaxMemoryMB int `yaml:"max_memory_mb"`
}

// WarmupStrategy selects which L2 entries are promoted on startup.
type WarmupStrategy string

const (
	// WarmupNone promotes nothing.
	WarmupNone WarmupStrategy = "none"
	// WarmupRecent promotes the most recently written entries.
	WarmupRecent WarmupStrategy = "recent"
	// WarmupFrequent promotes the most frequently read entries.
	WarmupFrequent WarmupStrategy = "frequent"
	// WarmupFull promotes everything that fits.
	WarmupFull WarmupStrategy = "full"
)

// L2Config enables and tunes the disk tier.
type L2Config struct {
	Enabled             bool           `yaml:"enabled"`
	DataDir             string         `yaml:"data_dir"`
	MaxDiskSize         int64          `yaml:"max_disk_size"`
	WriteBuffer         int            `yaml:"write_buffer"`
	Compression         bool           `yaml:"compression"`
	CompressionAlgo     string         `yaml:"compression_algo"` // "zstd" or "lz4"
	CompressionLevel    int            `yaml:"compression_level"`
	ClearOnStartup      bool           `yaml:"clear_on_startup"`
	FlushInterval       time.Duration  `yaml:"flush_interval"`
	Warmup              WarmupStrategy `yaml:"warmup"`
	WriteThrough        bool           `yaml:"write_through"`
	WriteBackThreshold  int            `yaml:"write_back_threshold"`
}

// TTLConfig governs entry expiry.
type TTLConfig struct {
	DefaultSeconds  int64         `yaml:"default_seconds"`
	MaxSeconds      int64         `yaml:"max_seconds"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ActiveExpiry    bool          `yaml:"active_expiry"`
}

// PerfConfig holds performance tunables.
type PerfConfig struct {
	WorkerThreads       int  `yaml:"worker_threads"`
	BatchSize           int  `yaml:"batch_size"`
	ReadWriteSeparation bool `yaml:"read_write_separation"`
}

// UnmarshalYAML accepts ID strategies by name.
func (s *IDStrategy) UnmarshalYAML(node *yaml.Node) error {
	switch node.Value {
	case "", "auto_increment":
		*s = IDAutoIncrement
	case "uuid":
		*s = IDUUID
	case "snowflake":
		*s = IDSnowflake
	case "object_id":
		*s = IDObjectID
	default:
		return fmt.Errorf("unknown id strategy %q", node.Value)
	}
	return nil
}

// parseDuration accepts Go duration strings ("10s") and bare integers,
// which are read as milliseconds per the configuration contract.
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// UnmarshalYAML decodes the pool configuration, accepting durations as
// either Go duration strings or integer milliseconds.
func (p *PoolConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MinConnections    int    `yaml:"min_connections"`
		MaxConnections    int    `yaml:"max_connections"`
		ConnectionTimeout string `yaml:"connection_timeout"`
		IdleTimeout       string `yaml:"idle_timeout"`
		MaxLifetime       string `yaml:"max_lifetime"`
		OperationTimeout  string `yaml:"operation_timeout"`
		SubmitTimeout     string `yaml:"submit_timeout"`
		KeepAliveInterval string `yaml:"keep_alive_interval"`
		RetryInterval     string `yaml:"retry_interval"`
		MaxRetries        int    `yaml:"max_retries"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.MinConnections = raw.MinConnections
	p.MaxConnections = raw.MaxConnections
	p.MaxRetries = raw.MaxRetries
	for _, d := range []struct {
		dst *time.Duration
		src string
	}{
		{&p.ConnectionTimeout, raw.ConnectionTimeout},
		{&p.IdleTimeout, raw.IdleTimeout},
		{&p.MaxLifetime, raw.MaxLifetime},
		{&p.OperationTimeout, raw.OperationTimeout},
		{&p.SubmitTimeout, raw.SubmitTimeout},
		{&p.KeepAliveInterval, raw.KeepAliveInterval},
		{&p.RetryInterval, raw.RetryInterval},
	} {
		v, err := parseDuration(d.src)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}

// UnmarshalYAML decodes the TTL configuration with flexible durations.
func (t *TTLConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		DefaultSeconds  int64  `yaml:"default_seconds"`
		MaxSeconds      int64  `yaml:"max_seconds"`
		CleanupInterval string `yaml:"cleanup_interval"`
		ActiveExpiry    bool   `yaml:"active_expiry"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	t.DefaultSeconds = raw.DefaultSeconds
	t.MaxSeconds = raw.MaxSeconds
	t.ActiveExpiry = raw.ActiveExpiry
	v, err := parseDuration(raw.CleanupInterval)
	if err != nil {
		return err
	}
	t.CleanupInterval = v
	return nil
}

// UnmarshalYAML decodes the L2 configuration with flexible durations.
func (l *L2Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled            bool           `yaml:"enabled"`
		DataDir            string         `yaml:"data_dir"`
		MaxDiskSize        int64          `yaml:"max_disk_size"`
		WriteBuffer        int            `yaml:"write_buffer"`
		Compression        bool           `yaml:"compression"`
		CompressionAlgo    string         `yaml:"compression_algo"`
		CompressionLevel   int            `yaml:"compression_level"`
		ClearOnStartup     bool           `yaml:"clear_on_startup"`
		FlushInterval      string         `yaml:"flush_interval"`
		Warmup             WarmupStrategy `yaml:"warmup"`
		WriteThrough       bool           `yaml:"write_through"`
		WriteBackThreshold int            `yaml:"write_back_threshold"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	flush, err := parseDuration(raw.FlushInterval)
	if err != nil {
		return err
	}
	*l = L2Config{
		Enabled:            raw.Enabled,
		DataDir:            raw.DataDir,
		MaxDiskSize:        raw.MaxDiskSize,
		WriteBuffer:        raw.WriteBuffer,
		Compression:        raw.Compression,
		CompressionAlgo:    raw.CompressionAlgo,
		CompressionLevel:   raw.CompressionLevel,
		ClearOnStartup:     raw.ClearOnStartup,
		FlushInterval:      flush,
		Warmup:             raw.Warmup,
		WriteThrough:       raw.WriteThrough,
		WriteBackThreshold: raw.WriteBackThreshold,
	}
	return nil
}

// FromYAML decodes a DatabaseConfig from a YAML document. Locating and
// reading configuration files is the caller's concern.
func FromYAML(doc []byte) (*DatabaseConfig, error) {
	var c DatabaseConfig
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return nil, NewConfigError(fmt.Sprintf("invalid config document: %v", err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
