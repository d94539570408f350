package sentinel_config

import (
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	pginfra "github.com/NordCoder/Sentinel/internal/repository/postgres"
)

const (
	TransportLocal = "local"
	TransportKafka = "kafka"

	ChannelSMTP    = "smtp"
	ChannelWebhook = "webhook"
	ChannelLog     = "log"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Queue tunes the deferred-work substrate and the local worker pool.
type Queue struct {
	Transport    string        `mapstructure:"transport"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	Workers      int           `mapstructure:"workers"`
	Buffer       int           `mapstructure:"buffer"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type Kafka struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type Probe struct {
	UserAgent       string `mapstructure:"user_agent"`
	FollowRedirects bool   `mapstructure:"follow_redirects"`
	VerifyTLS       bool   `mapstructure:"verify_tls"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
}

// Alerts drives the outbox runner and the delivery retry policy.
type Alerts struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Jitter        float64       `mapstructure:"jitter"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

type Notify struct {
	Channel          string  `mapstructure:"channel"`
	DefaultRecipient string  `mapstructure:"default_recipient"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
}

type SMTP struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

type Webhook struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

type Sweep struct {
	Enable bool   `mapstructure:"enable"`
	Spec   string `mapstructure:"spec"`

	// StuckGrace is added to an endpoint's interval to decide that a claimed
	// check was lost.
	StuckGrace time.Duration `mapstructure:"stuck_grace"`
}

type Server struct {
	AdminAddr       string        `mapstructure:"admin_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type Config struct {
	App     App            `mapstructure:"app"`
	Log     Log            `mapstructure:"log"`
	OTEL    OTEL           `mapstructure:"otel"`
	DB      pginfra.Config `mapstructure:"db"`
	Queue   Queue          `mapstructure:"queue"`
	Kafka   Kafka          `mapstructure:"kafka"`
	Probe   Probe          `mapstructure:"probe"`
	Alerts  Alerts         `mapstructure:"alerts"`
	Notify  Notify         `mapstructure:"notify"`
	SMTP    SMTP           `mapstructure:"smtp"`
	Webhook Webhook        `mapstructure:"webhook"`
	Sweep   Sweep          `mapstructure:"sweep"`
	Server  Server         `mapstructure:"server"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

func (c *Config) AsOTELConfig() obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.OTLPEndpoint,
		ServiceName: c.OTEL.ServiceName,
		Version:     c.App.Version,
		Env:         c.App.Env,
		SampleRatio: c.OTEL.SampleRatio,
	}
}

func (a *Alerts) AsPolicyConfig() retry.PolicyConfig {
	return retry.PolicyConfig{
		Attempts:    a.MaxAttempts,
		BaseBackoff: a.BaseBackoff,
		MaxBackoff:  a.MaxBackoff,
		Jitter:      a.Jitter,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	if c.DB.DSN == "" {
		return ErrConfig("db.dsn is empty")
	}
	switch c.Queue.Transport {
	case TransportLocal:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return ErrConfig("kafka transport needs kafka.brokers and kafka.topic")
		}
	default:
		return ErrConfig(fmt.Sprintf("unknown queue.transport %q", c.Queue.Transport))
	}
	if c.Queue.Workers <= 0 || c.Queue.BatchLimit <= 0 || c.Queue.PollInterval <= 0 {
		return ErrConfig("queue.workers, queue.batch_limit and queue.poll_interval must be positive")
	}
	if c.Alerts.MaxAttempts <= 0 || c.Alerts.Workers <= 0 || c.Alerts.BatchSize <= 0 {
		return ErrConfig("alerts.max_attempts, alerts.workers and alerts.batch_size must be positive")
	}
	if run := c.WorstDeliveryRun(); c.Alerts.InProgressTTL <= run {
		return ErrConfig(fmt.Sprintf("alerts.in_progress_ttl %s must outlast a full delivery run of one alert (%s)",
			c.Alerts.InProgressTTL, run))
	}
	switch c.Notify.Channel {
	case ChannelSMTP, ChannelLog:
	case ChannelWebhook:
		if c.Webhook.URL == "" {
			return ErrConfig("webhook channel needs webhook.url")
		}
	default:
		return ErrConfig(fmt.Sprintf("unknown notify.channel %q", c.Notify.Channel))
	}
	return nil
}

// WorstDeliveryRun bounds how long one alert can stay in the delivery
// handler: every attempt hits the channel timeout and every pause between
// attempts is the maximum backoff stretched by the jitter.
func (c *Config) WorstDeliveryRun() time.Duration {
	var send time.Duration
	switch c.Notify.Channel {
	case ChannelSMTP:
		send = c.SMTP.Timeout
	case ChannelWebhook:
		send = c.Webhook.Timeout
	}
	attempts := time.Duration(max(c.Alerts.MaxAttempts, 1))
	pause := time.Duration(float64(c.Alerts.MaxBackoff) * (1 + max(c.Alerts.Jitter, 0)))
	return attempts*send + (attempts-1)*pause
}

