package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/noatgnu/UniprotWebParser/internal/fields"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
	// MaxBatchSize is the most identifiers UniProt accepts in one mapping job
	MaxBatchSize = 100000
)

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	UniProt      UniProtConfig      `yaml:"uniprot"`
	Mapping      MappingConfig      `yaml:"mapping"`
	Polling      PollingConfig      `yaml:"polling"`
	Retry        RetryConfig        `yaml:"retry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Worker       WorkerConfig       `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// UniProtConfig holds the remote service settings
type UniProtConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// MappingConfig holds what is requested from the service
type MappingConfig struct {
	From           string   `yaml:"from"`
	To             string   `yaml:"to"`
	Format         string   `yaml:"format"`
	Fields         []string `yaml:"fields"`
	BatchSize      int      `yaml:"batch_size"`
	PageSize       int      `yaml:"page_size"`
	IncludeIsoform bool     `yaml:"include_isoform"`
}

// PollingConfig is the schedule between status checks of a running job
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
}

// RetryConfig governs retries of transient request failures
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Multiplier float64       `yaml:"multiplier"`
}

// OrchestratorConfig selects how batches are scheduled
type OrchestratorConfig struct {
	Mode              string `yaml:"mode"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	AbortOnError      bool   `yaml:"abort_on_error"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxIdentifiers  int           `yaml:"max_identifiers"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the job journal
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	Queue            QueueConfig      `yaml:"queue"`
	RoutingKey       string           `yaml:"routing_key"`
	ResultQueue      QueueConfig      `yaml:"result_queue"`
	ResultRoutingKey string           `yaml:"result_routing_key"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
	Consumer         ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file or override sets a value
func Default() *Config {
	sel := fields.Default().DefaultSelection()
	return &Config{
		App: AppConfig{
			Name:        "uniprot-web-parser",
			Version:     "dev",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		UniProt: UniProtConfig{
			BaseURL:        idmapping.DefaultBaseURL,
			RequestTimeout: idmapping.DefaultRequestTimeout,
			UserAgent:      idmapping.DefaultUserAgent,
		},
		Mapping: MappingConfig{
			From:           sel.From,
			To:             sel.To,
			Format:         domain.FormatTSV,
			Fields:         fields.Default().DefaultColumns(),
			BatchSize:      domain.DefaultBatchSize,
			PageSize:       idmapping.DefaultPageSize,
			IncludeIsoform: true,
		},
		Polling: PollingConfig{
			Interval:    idmapping.DefaultPollBackoff.Initial,
			MaxInterval: idmapping.DefaultPollBackoff.Max,
			Multiplier:  idmapping.DefaultPollBackoff.Multiplier,
		},
		Retry: RetryConfig{
			Attempts:   idmapping.DefaultMaxRetries,
			Backoff:    idmapping.DefaultRetryBackoff.Initial,
			MaxBackoff: idmapping.DefaultRetryBackoff.Max,
			Multiplier: idmapping.DefaultRetryBackoff.Multiplier,
		},
		Orchestrator: OrchestratorConfig{
			Mode:              idmapping.ModeSequential,
			MaxConcurrentJobs: idmapping.DefaultMaxInFlight,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxIdentifiers:  10000,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "uniprot",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:             "localhost",
			Port:             5672,
			User:             "guest",
			Password:         "guest",
			VHost:            "/",
			Exchange:         ExchangeConfig{Name: "idmapping", Type: "direct", Durable: true},
			Queue:            QueueConfig{Name: "idmapping.requests", Durable: true},
			RoutingKey:       "idmapping.request",
			ResultQueue:      QueueConfig{Name: "idmapping.results", Durable: true},
			ResultRoutingKey: "idmapping.result",
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 30 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
			Consumer: ConsumerConfig{PrefetchCount: 4},
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			JobTimeout:      30 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads the configuration file over the defaults. An empty path yields
// the defaults.
func Load(configPath string) (*Config, error) {
	config := Default()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from UNIPROT_* and service environment
// variables. lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("UNIPROT_BASE_URL", &c.UniProt.BaseURL)
	str("UNIPROT_FROM", &c.Mapping.From)
	str("UNIPROT_TO", &c.Mapping.To)
	str("UNIPROT_FORMAT", &c.Mapping.Format)
	num("UNIPROT_BATCH_SIZE", &c.Mapping.BatchSize)
	str("UNIPROT_MODE", &c.Orchestrator.Mode)
	num("UNIPROT_MAX_CONCURRENT_JOBS", &c.Orchestrator.MaxConcurrentJobs)
	str("LOG_LEVEL", &c.Logging.Level)
	num("SERVER_PORT", &c.Server.Port)
	flag("DATABASE_ENABLED", &c.Database.Enabled)
	str("DATABASE_HOST", &c.Database.Host)
	str("DATABASE_USER", &c.Database.User)
	str("DATABASE_PASSWORD", &c.Database.Password)
	str("RABBITMQ_HOST", &c.RabbitMQ.Host)
	str("RABBITMQ_USER", &c.RabbitMQ.User)
	str("RABBITMQ_PASSWORD", &c.RabbitMQ.Password)

	if v, ok := lookup("UNIPROT_FIELDS"); ok && v != "" {
		c.Mapping.Fields = SplitList(v)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// Validate checks the settings every service needs to talk to UniProt
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.UniProt.BaseURL, "http://") && !strings.HasPrefix(c.UniProt.BaseURL, "https://") {
		return fmt.Errorf("uniprot base_url must be an http(s) URL, got %q", c.UniProt.BaseURL)
	}

	if c.UniProt.RequestTimeout <= 0 {
		return fmt.Errorf("uniprot request_timeout must be greater than 0")
	}

	switch c.Mapping.Format {
	case domain.FormatTSV, domain.FormatFASTA:
	default:
		return fmt.Errorf("mapping format must be %s or %s, got %q", domain.FormatTSV, domain.FormatFASTA, c.Mapping.Format)
	}

	if c.Mapping.BatchSize <= 0 || c.Mapping.BatchSize > MaxBatchSize {
		return fmt.Errorf("mapping batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Mapping.BatchSize)
	}

	if c.Mapping.PageSize <= 0 {
		return fmt.Errorf("mapping page_size must be greater than 0")
	}

	if err := fields.Default().Validate(c.Selection()); err != nil {
		return fmt.Errorf("mapping selection: %w", err)
	}

	if c.Polling.Interval <= 0 || c.Polling.MaxInterval < c.Polling.Interval {
		return fmt.Errorf("polling interval must be positive and not above max_interval")
	}

	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}

	if c.Retry.Backoff <= 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		return fmt.Errorf("retry backoff must be positive and not above max_backoff")
	}

	if _, err := c.Strategy(); err != nil {
		return err
	}

	if c.Orchestrator.Mode == idmapping.ModeConcurrent && c.Orchestrator.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("orchestrator max_concurrent_jobs must be greater than 0")
	}

	return nil
}

// ValidateAPIConfig checks the settings of the HTTP service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxIdentifiers <= 0 {
		return fmt.Errorf("server max_identifiers must be greater than 0")
	}

	return c.validateDatabase()
}

// ValidateWorkerConfig checks the settings of the queue worker
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" || c.RabbitMQ.ResultQueue.Name == "" {
		return fmt.Errorf("rabbitmq request and result queue names are required")
	}

	if c.RabbitMQ.RoutingKey == c.RabbitMQ.ResultRoutingKey {
		return fmt.Errorf("rabbitmq routing_key and result_routing_key must differ")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateDatabase()
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// Selection returns the configured from/to pair
func (c *Config) Selection() domain.Selection {
	return domain.Selection{From: c.Mapping.From, To: c.Mapping.To}
}

// Strategy builds the configured batch scheduling strategy
func (c *Config) Strategy() (idmapping.Strategy, error) {
	return idmapping.NewStrategy(c.Orchestrator.Mode, c.Orchestrator.MaxConcurrentJobs, c.Orchestrator.AbortOnError)
}

// ClientConfig translates the configuration into idmapping client options
// for the given result format.
func (c *Config) ClientConfig(format string, logger *slog.Logger) *idmapping.Config {
	return &idmapping.Config{
		BaseURL:        c.UniProt.BaseURL,
		RequestTimeout: c.UniProt.RequestTimeout,
		UserAgent:      c.UniProt.UserAgent,
		Format:         format,
		Fields:         c.Mapping.Fields,
		IncludeIsoform: c.Mapping.IncludeIsoform,
		PageSize:       c.Mapping.PageSize,
		Poll: idmapping.Backoff{
			Initial:    c.Polling.Interval,
			Max:        c.Polling.MaxInterval,
			Multiplier: c.Polling.Multiplier,
		},
		Retry: idmapping.Backoff{
			Initial:    c.Retry.Backoff,
			Max:        c.Retry.MaxBackoff,
			Multiplier: c.Retry.Multiplier,
		},
		MaxRetries: c.Retry.Attempts,
		NoRetry:    c.Retry.Attempts == 0,
		Logger:     logger,
	}
}

// Resolvers builds one idmapping client per result format. The clients
// share a single connection pool.
func (c *Config) Resolvers(logger *slog.Logger) (map[string]idmapping.Resolver, error) {
	httpClient := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	resolvers := make(map[string]idmapping.Resolver, 2)
	for _, format := range []string{domain.FormatTSV, domain.FormatFASTA} {
		cc := c.ClientConfig(format, logger)
		cc.HTTPClient = httpClient
		client, err := idmapping.NewClient(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", format, err)
		}
		resolvers[format] = client
	}
	return resolvers, nil
}

// SplitList splits a comma separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
