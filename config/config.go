package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Session   Session   `mapstructure:"session" validate:"required"`
	Reporting Reporting `mapstructure:"reporting" validate:"required"`
	Queue     Queue     `mapstructure:"queue"`
	Worker    Worker    `mapstructure:"worker"`
}

type Session struct {
	Port                *int   `mapstructure:"port" validate:"required,gte=0,lte=65535"`
	ArrayMemoryBudgetMB *int64 `mapstructure:"arrayMemoryBudgetMB" validate:"required,gte=1"`
	MapMemoryBudgetMB   *int64 `mapstructure:"mapMemoryBudgetMB" validate:"required,gte=1"`
	MinLatency          *int64 `mapstructure:"minLatency" validate:"required,gte=0"`
	MaxLatency          *int64 `mapstructure:"maxLatency" validate:"required,gte=1"`
	// Percentiles are percentages, e.g. 99.9, in strictly ascending order.
	Percentiles              []float64 `mapstructure:"percentiles" validate:"required,min=1,dive,gt=0,lte=100"`
	ReportingIntervalSeconds *int      `mapstructure:"reportingIntervalSeconds" validate:"required,gte=1"`
}

type Reporting struct {
	Driver   string    `mapstructure:"driver" validate:"oneof=noop stdout influxdb"`
	InfluxDB *InfluxDB `mapstructure:"influxdb" validate:"required_if=Driver influxdb"`
	// PlotFile is an optional PNG path for a plot of interval percentiles.
	PlotFile string `mapstructure:"plotFile"`
}

type InfluxDB struct {
	Host   *string `mapstructure:"host" validate:"required"`
	Token  *string `mapstructure:"token" validate:"required"`
	Org    *string `mapstructure:"org" validate:"required"`
	Bucket *string `mapstructure:"bucket" validate:"required"`
}

// Queue enables ingestion through a Redis queue alongside HTTP.
type Queue struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name" validate:"required_with=Enabled"`
	Redis   Redis  `mapstructure:"redis"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type Worker struct {
	ID int `mapstructure:"id" validate:"gte=0"`
	// IngestionAddr is the host:port of the session's ingestion server.
	IngestionAddr string `mapstructure:"ingestionAddr"`
	Transport     string `mapstructure:"transport" validate:"oneof=http queue"`
	Driver        string `mapstructure:"driver" validate:"oneof=redis synthetic"`
	BatchSize     int64  `mapstructure:"batchSize" validate:"gte=1"`
	// Records caps the records read by this worker; zero is unlimited.
	Records      int64     `mapstructure:"records" validate:"gte=0"`
	RecordSize   int       `mapstructure:"recordSize" validate:"gte=8"`
	EmbeddedTime bool      `mapstructure:"embeddedTime"`
	KeyPrefix    string    `mapstructure:"keyPrefix"`
	Redis        Redis     `mapstructure:"redis"`
	Synthetic    Synthetic `mapstructure:"synthetic"`
}

// Synthetic describes the latency distribution of the synthetic driver in
// milliseconds.
type Synthetic struct {
	MeanLatency   float64 `mapstructure:"meanLatency" validate:"gte=0"`
	StdDevLatency float64 `mapstructure:"stdDevLatency" validate:"gt=0"`
}

// Fractions converts the configured percentages to fractions in (0, 1].
func (s *Session) Fractions() []float64 {
	fractions := make([]float64, len(s.Percentiles))
	for i, p := range s.Percentiles {
		fractions[i] = p / 100
	}
	return fractions
}

func (s *Session) ReportingInterval() time.Duration {
	return time.Duration(*s.ReportingIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Session.Port", 9718)
	v.SetDefault("Session.ArrayMemoryBudgetMB", 256)
	v.SetDefault("Session.MapMemoryBudgetMB", 512)
	v.SetDefault("Session.MinLatency", 0)
	v.SetDefault("Session.MaxLatency", 180000)
	v.SetDefault("Session.Percentiles", []float64{10, 25, 50, 75, 90, 95, 99, 99.9})
	v.SetDefault("Session.ReportingIntervalSeconds", 5)

	v.SetDefault("Reporting.Driver", "stdout")

	v.SetDefault("Queue.Enabled", false)
	v.SetDefault("Queue.Name", "benchram-batches")
	v.SetDefault("Queue.Redis.Addr", "localhost:6379")

	v.SetDefault("Worker.IngestionAddr", "localhost:9718")
	v.SetDefault("Worker.Transport", "http")
	v.SetDefault("Worker.Driver", "synthetic")
	v.SetDefault("Worker.BatchSize", 100)
	v.SetDefault("Worker.Records", 100000)
	v.SetDefault("Worker.RecordSize", 1024)
	v.SetDefault("Worker.KeyPrefix", "benchram")
	v.SetDefault("Worker.Redis.Addr", "localhost:6379")
	v.SetDefault("Worker.Synthetic.MeanLatency", 20)
	v.SetDefault("Worker.Synthetic.StdDevLatency", 5)
}

// ReadConfig loads config.yaml from the working directory or /app, exiting
// the process if it is missing or invalid.
func ReadConfig() *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	config, err := load(v)
	if err != nil {
		log.WithError(err).Fatal("could not load configuration; check /app/config.yaml and try again")
	}
	return config
}

// ReadConfigFile loads the yaml configuration at path.
func ReadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, errors.Wrap(err, "config.yaml not found")
		}
		return nil, errors.Wrapf(err, "could not read config file %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "could not decode configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field constraints and the relationships between fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.Wrap(err, "unable to validate config")
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			msgs = append(msgs, fieldErr.Error())
		}
		return errors.Errorf("encountered validation errors:\n\t%s", strings.Join(msgs, "\n\t"))
	}

	if *c.Session.MaxLatency <= *c.Session.MinLatency {
		return errors.Errorf("session.maxLatency (%d) must be greater than session.minLatency (%d)", *c.Session.MaxLatency, *c.Session.MinLatency)
	}
	for i := 1; i < len(c.Session.Percentiles); i++ {
		if c.Session.Percentiles[i] <= c.Session.Percentiles[i-1] {
			return errors.Errorf("session.percentiles must be strictly ascending; got %v", c.Session.Percentiles)
		}
	}
	return nil
}
