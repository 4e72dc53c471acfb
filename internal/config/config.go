package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"HeadlineBot/internal/domain"
)

const (
	defaultTimezone   = "Europe/London"
	configPathEnv     = "HEADLINEBOT_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	redisURLEnv       = "REDIS_URL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	sentimentKeyEnv   = "SENTIMENT_API_KEY"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	logLevelEnv       = "LOG_LEVEL"
	logFormatEnv      = "LOG_FORMAT"
)

// Config holds high-level settings required across the application.
type Config struct {
	Timezone      string             `yaml:"timezone"`
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Filter        FilterConfig       `yaml:"filter"`
	Sentiment     SentimentConfig    `yaml:"sentiment"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Gate          GateConfig         `yaml:"gate"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Formatter     FormatterConfig    `yaml:"formatter"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sources       SourcesConfig      `yaml:"sources"`
	Sites         []SiteConfig       `yaml:"sites"`

	location *time.Location
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the store. An empty driver means the in-memory store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the seen-URL cache when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url"`
	SeenTTL time.Duration `yaml:"seenTtl"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// FilterConfig tunes subject matching, the negativity threshold and ranking.
type FilterConfig struct {
	Threshold       float64  `yaml:"threshold"`
	RequireNegative bool     `yaml:"requireNegative"`
	SubjectKeywords []string `yaml:"subjectKeywords"`
	BoostKeywords   []string `yaml:"boostKeywords"`
	TrustedSources  []string `yaml:"trustedSources"`
}

// SentimentConfig selects the sentiment provider: "http", "chatgpt" or "none".
type SentimentConfig struct {
	Provider        string        `yaml:"provider"`
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"apiKey"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// GateConfig holds the posting limits.
type GateConfig struct {
	MaxPostsPerDay int           `yaml:"maxPostsPerDay"`
	MinSpacing     time.Duration `yaml:"minSpacing"`
	SendTimeout    time.Duration `yaml:"sendTimeout"`
}

// SchedulerConfig defines when the three periodic activities run.
type SchedulerConfig struct {
	PostsPerDay     int                 `yaml:"postsPerDay"`
	PeakWindows     []domain.HourWindow `yaml:"peakWindows"`
	IngestInterval  time.Duration       `yaml:"ingestInterval"`
	ExecuteInterval time.Duration       `yaml:"executeInterval"`
	PlanAt          string              `yaml:"planAt"`
	RunOnStart      bool                `yaml:"runOnStart"`
	ClaimLease      time.Duration       `yaml:"claimLease"`
	BatchSize       int                 `yaml:"batchSize"`
}

// FormatterConfig tunes post rendering.
type FormatterConfig struct {
	IncludeHashtags bool `yaml:"includeHashtags"`
}

// NotificationConfig selects the outbound sender: "dryrun" or "telegram".
type NotificationConfig struct {
	Sender   string         `yaml:"sender"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// SourcesConfig bounds fetching across all sites.
type SourcesConfig struct {
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"userAgent"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name     string            `yaml:"name"`
	Scanner  string            `yaml:"scanner"`
	URL      string            `yaml:"url"`
	Category string            `yaml:"category"`
	Options  map[string]string `yaml:"options"`
}

// Load reads .env and the YAML file named by HEADLINEBOT_CONFIG over the defaults, applies
// environment overrides and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PlanTime splits PlanAt into hour and minute.
func (c Config) PlanTime() (int, int, error) {
	at, err := time.Parse("15:04", strings.TrimSpace(c.Scheduler.PlanAt))
	if err != nil {
		return 0, 0, fmt.Errorf("planAt %q must be HH:MM: %w", c.Scheduler.PlanAt, err)
	}
	return at.Hour(), at.Minute(), nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if len(c.Scheduler.PeakWindows) == 0 {
		errs = append(errs, errors.New("scheduler.peakWindows must not be empty"))
	}
	for _, w := range c.Scheduler.PeakWindows {
		if w.Start < 0 || w.End > 23 || w.Start > w.End {
			errs = append(errs, fmt.Errorf("peak window %d-%d must satisfy 0 <= start <= end <= 23", w.Start, w.End))
		}
	}
	if c.Scheduler.PostsPerDay <= 0 {
		errs = append(errs, errors.New("scheduler.postsPerDay must be positive"))
	}
	if c.Scheduler.IngestInterval <= 0 || c.Scheduler.ExecuteInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if _, _, err := c.PlanTime(); err != nil {
		errs = append(errs, err)
	}
	if c.Gate.MaxPostsPerDay <= 0 {
		errs = append(errs, errors.New("gate.maxPostsPerDay must be positive"))
	}
	if c.Gate.MinSpacing < 0 {
		errs = append(errs, errors.New("gate.minSpacing must not be negative"))
	}
	if c.Gate.SendTimeout <= 0 {
		errs = append(errs, errors.New("gate.sendTimeout must be positive"))
	}
	if c.Sources.FetchTimeout <= 0 {
		errs = append(errs, errors.New("sources.fetchTimeout must be positive"))
	}
	// A lease that can lapse mid-send lets a second executor reclaim the task.
	if c.Scheduler.ClaimLease <= c.Gate.SendTimeout {
		errs = append(errs, fmt.Errorf("scheduler.claimLease %s must exceed gate.sendTimeout %s",
			c.Scheduler.ClaimLease, c.Gate.SendTimeout))
	}
	if c.Filter.Threshold < -1 || c.Filter.Threshold > 1 {
		errs = append(errs, fmt.Errorf("filter.threshold %.2f must be within [-1, 1]", c.Filter.Threshold))
	}

	switch c.Sentiment.Provider {
	case "", "none":
	case "http":
		if c.Sentiment.Endpoint == "" {
			errs = append(errs, errors.New("http sentiment provider needs an endpoint"))
		}
	case "chatgpt":
		if c.ChatGPT.Endpoint == "" || c.ChatGPT.APIKey == "" || c.ChatGPT.Model == "" {
			errs = append(errs, errors.New("chatgpt sentiment provider needs endpoint, apiKey and model"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sentiment provider %q", c.Sentiment.Provider))
	}
	switch c.Notifications.Sender {
	case "", "dryrun":
	case "telegram":
		if c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "" {
			errs = append(errs, errors.New("telegram sender needs botToken and chatId"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sender %q", c.Notifications.Sender))
	}

	for i, site := range c.Sites {
		if site.Name == "" || site.URL == "" {
			errs = append(errs, fmt.Errorf("site #%d needs a name and url", i))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{databaseDSNEnv, &c.Database.DSN},
		{databaseDriverEnv, &c.Database.Driver},
		{redisURLEnv, &c.Redis.URL},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
		{sentimentKeyEnv, &c.Sentiment.APIKey},
		{chatGPTAPIKeyEnv, &c.ChatGPT.APIKey},
		{chatGPTModelEnv, &c.ChatGPT.Model},
		{logLevelEnv, &c.Logging.Level},
		{logFormatEnv, &c.Logging.Format},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func (c *Config) bindTimezone() error {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %s: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Timezone: defaultTimezone,
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "headlinebot.db"},
		Redis:    RedisConfig{SeenTTL: 72 * time.Hour},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Filter: FilterConfig{
			Threshold:       -0.2,
			RequireNegative: true,
			SubjectKeywords: []string{
				"starmer", "keir", "prime minister", "pm",
				"labour leader", "downing street", "no 10", "number 10",
			},
			BoostKeywords: []string{
				"crisis", "disaster", "failure", "scandal", "backlash", "u-turn", "gaffe",
				"two-tier", "two tier", "broken promise", "out of touch", "incompetent",
				"approval rating", "poll collapse", "resign", "sack", "shambles", "chaos",
				"embarrassment", "humiliation", "catastrophe",
			},
			TrustedSources: []string{"BBC", "Guardian", "Sky News", "Reuters"},
		},
		Sentiment: SentimentConfig{
			Provider:        "none",
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Gate: GateConfig{
			MaxPostsPerDay: 50,
			MinSpacing:     30 * time.Minute,
			SendTimeout:    15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PostsPerDay:     6,
			PeakWindows:     []domain.HourWindow{{Start: 7, End: 9}, {Start: 12, End: 14}, {Start: 18, End: 21}},
			IngestInterval:  30 * time.Minute,
			ExecuteInterval: 30 * time.Minute,
			PlanAt:          "06:00",
			ClaimLease:      5 * time.Minute,
			BatchSize:       50,
		},
		Notifications: NotificationConfig{
			Sender:   "dryrun",
			Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
		},
		Sources: SourcesConfig{
			FetchTimeout:      20 * time.Second,
			RequestsPerSecond: 2,
			Burst:             1,
			UserAgent:         "HeadlineBot/1.0",
		},
		Sites: defaultSites(),
	}
}

func defaultSites() []SiteConfig {
	rss := func(name, url, category string) SiteConfig {
		return SiteConfig{Name: name, Scanner: "rss", URL: url, Category: category}
	}
	return []SiteConfig{
		rss("The Guardian Politics", "https://www.theguardian.com/politics/rss", domain.DefaultCategory),
		rss("The Telegraph Politics", "https://www.telegraph.co.uk/politics/rss.xml", domain.DefaultCategory),
		rss("Daily Mail Politics", "https://www.dailymail.co.uk/news/politics/index.rss", domain.DefaultCategory),
		rss("GB News", "https://www.gbnews.com/feeds/rss", domain.DefaultCategory),
		rss("The Sun Politics", "https://www.thesun.co.uk/news/politics/feed/", domain.DefaultCategory),
		rss("Sky News Politics", "https://feeds.skynews.com/feeds/rss/politics.xml", domain.DefaultCategory),
		rss("BBC Politics", "https://feeds.bbci.co.uk/news/politics/rss.xml", domain.DefaultCategory),
		rss("The Independent Politics", "https://www.independent.co.uk/news/uk/politics/rss", domain.DefaultCategory),
		rss("Express Politics", "https://www.express.co.uk/posts/rss/139/politics", domain.DefaultCategory),
		rss("Reuters UK", "https://www.reuters.com/world/uk/rss", "international"),
		rss("AP News UK", "https://apnews.com/hub/united-kingdom?format=rss", "international"),
	}
}
