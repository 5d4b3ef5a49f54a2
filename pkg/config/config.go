package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the refresher configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	IPFS       IPFSConfig       `mapstructure:"ipfs"`
	Maker      MakerConfig      `mapstructure:"maker"`
	Refresher  RefresherConfig  `mapstructure:"refresher"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Sanity     SanityConfig     `mapstructure:"sanity"`
	Tx         TxConfig         `mapstructure:"tx"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Shutdown   ShutdownConfig   `mapstructure:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" default:"15s"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" default:"15s"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" default:"60s"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" default:"60s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" default:"20" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" default:"5m"`
}

// EthereumConfig contains JSON-RPC provider settings.
// The primary provider is rate limited; historical ranges are routed to the fallback.
type EthereumConfig struct {
	PrimaryRPCURL   string        `mapstructure:"primary_rpc_url" validate:"required,url"`
	FallbackRPCURL  string        `mapstructure:"fallback_rpc_url" validate:"omitempty,url"`
	PrimaryRPS      float64       `mapstructure:"primary_rps" default:"10" validate:"gt=0"`
	PrimaryBurst    int           `mapstructure:"primary_burst" default:"20" validate:"gt=0"`
	FreshnessBlocks int64         `mapstructure:"freshness_blocks" default:"50" validate:"gte=0"`
	SafetyBlocks    int64         `mapstructure:"safety_blocks" default:"10" validate:"gte=0"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" default:"16" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" default:"30s"`
	MaxAttempts     int           `mapstructure:"max_attempts" default:"3" validate:"gt=0"`
	BaseDelay       time.Duration `mapstructure:"base_delay" default:"500ms"`
}

// SnapshotConfig contains Snapshot hub GraphQL settings
type SnapshotConfig struct {
	URL             string        `mapstructure:"url" default:"https://hub.snapshot.org/graphql" validate:"url"`
	PageSize        int           `mapstructure:"page_size" default:"1000" validate:"gt=0,lte=1000"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" default:"10s"`
	Deadline        time.Duration `mapstructure:"deadline" default:"30s"`
	MaxAttempts     int           `mapstructure:"max_attempts" default:"3" validate:"gt=0"`
	BaseDelay       time.Duration `mapstructure:"base_delay" default:"1s"`
}

// IPFSConfig contains content-addressed gateway settings used for title resolution
type IPFSConfig struct {
	Gateways       []string      `mapstructure:"gateways" validate:"dive,url"`
	MaxAttempts    int           `mapstructure:"max_attempts" default:"12" validate:"gt=0"`
	BaseDelay      time.Duration `mapstructure:"base_delay" default:"2ms"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" default:"5s"`
}

// MakerConfig contains the metadata endpoints used by the Maker adapters
type MakerConfig struct {
	ExecutiveAPIURL string        `mapstructure:"executive_api_url" default:"https://vote.makerdao.com/api/executive/" validate:"url"`
	BlockAPIURL     string        `mapstructure:"block_api_url" default:"https://coins.llama.fi/block/ethereum/" validate:"url"`
	MaxAttempts     int           `mapstructure:"max_attempts" default:"5" validate:"gt=0"`
	BaseDelay       time.Duration `mapstructure:"base_delay" default:"1s"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" default:"10s"`
}

// RefresherConfig contains scheduler settings
type RefresherConfig struct {
	PopulateInterval time.Duration    `mapstructure:"populate_interval" default:"1s" validate:"gt=0"`
	DispatchInterval time.Duration    `mapstructure:"dispatch_interval" default:"300ms" validate:"gt=0"`
	NormalInterval   time.Duration    `mapstructure:"normal_interval" default:"5m" validate:"gt=0"`
	ForceInterval    time.Duration    `mapstructure:"force_interval" default:"30m" validate:"gtfield=NormalInterval"`
	NewInterval      time.Duration    `mapstructure:"new_interval" default:"5s" validate:"gt=0"`
	QueueCapacity    int              `mapstructure:"queue_capacity" default:"1000" validate:"gt=0"`
	BucketCount      int              `mapstructure:"bucket_count" default:"10" validate:"gt=0"`
	BucketSize       int              `mapstructure:"bucket_size" default:"100" validate:"gt=0"`
	DomainLimit      int64            `mapstructure:"domain_limit" default:"17000000" validate:"gt=0"`
	DomainLimits     map[string]int64 `mapstructure:"domain_limits"`
	ItemTimeout      time.Duration    `mapstructure:"item_timeout" default:"2m" validate:"gt=0"`
	Workers          int              `mapstructure:"workers" default:"8" validate:"gt=0"`
}

// IngestConfig contains ingestion facade settings
type IngestConfig struct {
	MaxRescanBlocks int64               `mapstructure:"max_rescan_blocks" default:"2000000" validate:"gte=0"`
	StartBlock      int64               `mapstructure:"start_block" default:"1920000" validate:"gte=0"`
	Blacklist       map[string][]string `mapstructure:"blacklist"`
}

// SanityConfig contains the Maker poll reconciliation settings
type SanityConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval" default:"1h" validate:"gt=0"`
	Timeout    time.Duration `mapstructure:"timeout" default:"10m" validate:"gt=0"`
	LookBack   time.Duration `mapstructure:"look_back" default:"1250h" validate:"gt=0"`
	SettleTime time.Duration `mapstructure:"settle_time" default:"15m"`
}

// TxConfig contains the transaction retry policy
type TxConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" default:"3" validate:"gt=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay" default:"50ms"`
	Timeout     time.Duration `mapstructure:"timeout" default:"10s"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SENATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if len(config.IPFS.Gateways) == 0 {
		config.IPFS.Gateways = DefaultIPFSGateways()
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultIPFSGateways returns the gateways tried in order when resolving proposal titles
func DefaultIPFSGateways() []string {
	return []string{
		"https://ipfs.io/ipfs/",
		"https://cloudflare-ipfs.com/ipfs/",
		"https://gateway.pinata.cloud/ipfs/",
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.database", "senate")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)

	// Sanity defaults
	v.SetDefault("sanity.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	// Shutdown defaults
	v.SetDefault("shutdown.timeout", "30s")
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s is invalid (%s)", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	for kind, limit := range config.Refresher.DomainLimits {
		if limit <= 0 {
			return fmt.Errorf("refresher.domain_limits.%s must be positive", kind)
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DomainLimitFor returns the cursor histogram domain upper bound for a source type
func (c *RefresherConfig) DomainLimitFor(sourceType string) int64 {
	if limit, ok := c.DomainLimits[sourceType]; ok {
		return limit
	}
	return c.DomainLimit
}
