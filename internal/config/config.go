package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

const (
	TransportSMTP    = "smtp"
	TransportWebhook = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS,default=10"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS,default=2"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS,default=3600"`

	MailTransport      string `env:"MAIL_TRANSPORT,default=smtp"`
	MailFrom           string `env:"MAIL_FROM,required=true"`
	MailFromName       string `env:"MAIL_FROM_NAME"`
	SMTPHost           string `env:"SMTP_HOST"`
	SMTPPort           int    `env:"SMTP_PORT,default=587"`
	SMTPUsername       string `env:"SMTP_USERNAME"`
	SMTPPassword       string `env:"SMTP_PASSWORD"`
	SMTPImplicitTLS    bool   `env:"SMTP_IMPLICIT_TLS,default=false"`
	SMTPTimeoutSeconds int    `env:"SMTP_TIMEOUT_SECONDS,default=30"`
	MailWebhookURL     string `env:"MAIL_WEBHOOK_URL"`
	MailWebhookToken   string `env:"MAIL_WEBHOOK_TOKEN"`

	IMAPHost        string `env:"IMAP_HOST"`
	IMAPPort        int    `env:"IMAP_PORT,default=993"`
	IMAPUsername    string `env:"IMAP_USERNAME"`
	IMAPPassword    string `env:"IMAP_PASSWORD"`
	IMAPMailbox     string `env:"IMAP_MAILBOX,default=INBOX"`
	IMAPImplicitTLS bool   `env:"IMAP_IMPLICIT_TLS,default=true"`

	ManagerEmailList string `env:"MANAGER_EMAILS,required=true"`
	SettingsSeedFile string `env:"SETTINGS_SEED_FILE"`

	SchedulerTickSeconds     int `env:"SCHEDULER_TICK_SECONDS,default=15"`
	ReplyPollSeconds         int `env:"REPLY_POLL_SECONDS,default=30"`
	ForwardWorkerConcurrency int `env:"FORWARD_WORKER_CONCURRENCY,default=2"`
}

// Load reads the process configuration from the environment. Values from the
// given .env files fill in variables the environment does not set; missing
// files are ignored.
func Load(dotenvFiles ...string) (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for _, file := range dotenvFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			if _, ok := es[k]; !ok {
				es[k] = v
			}
		}
	}

	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.MailTransport)) {
	case TransportSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("%w: SMTP_HOST is required for the smtp transport", domain.ErrConfiguration)
		}
	case TransportWebhook:
		if strings.TrimSpace(c.MailWebhookURL) == "" {
			return fmt.Errorf("%w: MAIL_WEBHOOK_URL is required for the webhook transport", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: MAIL_TRANSPORT must be smtp or webhook, got %q", domain.ErrConfiguration, c.MailTransport)
	}

	if err := domain.ValidateEmail(c.MailFrom); err != nil {
		return fmt.Errorf("%w: MAIL_FROM: %v", domain.ErrConfiguration, err)
	}
	if len(c.ManagerEmails()) == 0 {
		return fmt.Errorf("%w: MANAGER_EMAILS must list at least one address", domain.ErrConfiguration)
	}
	for _, addr := range c.ManagerEmails() {
		if err := domain.ValidateEmail(addr); err != nil {
			return fmt.Errorf("%w: MANAGER_EMAILS: %v", domain.ErrConfiguration, err)
		}
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("%w: API_PORT out of range: %d", domain.ErrConfiguration, c.APIPort)
	}
	return nil
}

// ManagerEmails splits MANAGER_EMAILS on commas and semicolons.
func (c *Config) ManagerEmails() []string {
	fields := strings.FieldsFunc(c.ManagerEmailList, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if addr := domain.NormalizeEmail(f); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// IMAPEnabled reports whether a reply mailbox is configured.
func (c *Config) IMAPEnabled() bool {
	return strings.TrimSpace(c.IMAPHost) != ""
}

func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSeconds) * time.Second
}

func (c *Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSeconds) * time.Second
}

func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}

func (c *Config) ReplyPollInterval() time.Duration {
	return time.Duration(c.ReplyPollSeconds) * time.Second
}
