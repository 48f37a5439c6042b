package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/engine"
	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/googleauth"
	"github.com/Veraticus/mailtally/internal/llm"
	"github.com/Veraticus/mailtally/internal/mailbox"
	"github.com/Veraticus/mailtally/internal/notify"
	"github.com/Veraticus/mailtally/internal/prefilter"
)

// Mailbox providers.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Notification methods.
const (
	NotifySMTP  = "smtp"
	NotifyGmail = "gmail"
)

// SetDefaults registers the default for every key read by the loaders.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.path", "~/.local/share/tally/tally.db")

	v.SetDefault("mailbox.provider", ProviderGmail)
	v.SetDefault("mailbox.label", "INBOX")
	v.SetDefault("mailbox.imap.port", 993)
	v.SetDefault("mailbox.imap.mailbox", "INBOX")
	v.SetDefault("mailbox.oauth.token_file", "~/.config/tally/gmail-token.json")
	v.SetDefault("mailbox.oauth.callback_addr", googleauth.DefaultCallbackAddr)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", llm.DefaultOpenAIBaseURL)
	v.SetDefault("llm.temperature", 0.25)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.rate_limit", 0)

	extractDefaults := extract.DefaultOptions()
	v.SetDefault("extract.default_currency", extractDefaults.DefaultCurrency)
	v.SetDefault("extract.date_slack", extractDefaults.DateSlack)
	v.SetDefault("extract.max_body_chars", extractDefaults.MaxBodyChars)

	pipelineDefaults := engine.DefaultConfig()
	v.SetDefault("pipeline.fetch_timeout", pipelineDefaults.FetchTimeout)
	v.SetDefault("pipeline.extract_timeout", extractDefaults.Timeout)
	v.SetDefault("pipeline.count_basis", string(pipelineDefaults.CountBasis))

	v.SetDefault("scheduler.lookback_days", 1)
	v.SetDefault("scheduler.max_range_days", 31)
	v.SetDefault("scheduler.settings_file", "~/.config/tally/scheduler.yaml")

	v.SetDefault("notify.method", NotifySMTP)
	v.SetDefault("notify.smtp.port", 587)
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	URL  string
	Path string
}

// LoadDatabaseConfig reads database.url and database.path. DATABASE_URL is
// honored when database.url is unset.
func LoadDatabaseConfig(v *viper.Viper) DatabaseConfig {
	cfg := DatabaseConfig{
		URL:  v.GetString("database.url"),
		Path: ExpandPath(v.GetString("database.path")),
	}
	if cfg.URL == "" {
		cfg.URL = os.Getenv("DATABASE_URL")
	}
	return cfg
}

// LoadLLMConfig loads the inference client configuration. It follows this precedence:
// 1. Viper configuration (from config file or TALLY_ env vars)
// 2. The provider's conventional API key variable
// 3. Default values
func LoadLLMConfig(v *viper.Viper) (llm.Config, error) {
	cfg := llm.Config{
		Provider:    strings.ToLower(v.GetString("llm.provider")),
		BaseURL:     v.GetString("llm.base_url"),
		APIKey:      v.GetString("llm.api_key"),
		Model:       v.GetString("llm.model"),
		RateLimit:   v.GetInt("llm.rate_limit"),
		Temperature: v.GetFloat64("llm.temperature"),
		MaxTokens:   v.GetInt("llm.max_tokens"),
		Timeout:     v.GetDuration("pipeline.extract_timeout"),
	}

	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "anthropic":
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
			if cfg.APIKey == "" {
				cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
			}
		default:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	// The OpenAI-style default URL only applies to that provider.
	if cfg.Provider != "openai" && cfg.Provider != "local" && cfg.Provider != "" &&
		cfg.BaseURL == llm.DefaultOpenAIBaseURL {
		cfg.BaseURL = ""
	}

	if cfg.MaxTokens <= 0 {
		return llm.Config{}, fmt.Errorf("%w: llm.max_tokens must be positive", common.ErrInvalidConfig)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return llm.Config{}, fmt.Errorf("%w: llm.temperature %.2f outside [0, 2]", common.ErrInvalidConfig, cfg.Temperature)
	}
	return cfg, nil
}

// LoadOAuthConfig loads the Google OAuth client used for Gmail, falling back
// to GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET.
func LoadOAuthConfig(v *viper.Viper) (googleauth.Config, error) {
	cfg := googleauth.Config{
		ClientID:     v.GetString("mailbox.oauth.client_id"),
		ClientSecret: v.GetString("mailbox.oauth.client_secret"),
		TokenFile:    ExpandPath(v.GetString("mailbox.oauth.token_file")),
		CallbackAddr: v.GetString("mailbox.oauth.callback_addr"),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return googleauth.Config{}, fmt.Errorf("%w: mailbox.oauth.client_id and mailbox.oauth.client_secret", common.ErrMissingConfig)
	}
	return cfg, nil
}

// MailboxConfig selects and configures the mail source. IMAP.TokenSource is
// left for the caller to fill in.
type MailboxConfig struct {
	Provider string
	Label    string
	IMAP     mailbox.IMAPConfig
}

// LoadMailboxConfig reads the mailbox.* keys.
func LoadMailboxConfig(v *viper.Viper) (MailboxConfig, error) {
	cfg := MailboxConfig{
		Provider: strings.ToLower(v.GetString("mailbox.provider")),
		Label:    v.GetString("mailbox.label"),
		IMAP: mailbox.IMAPConfig{
			Host:     v.GetString("mailbox.imap.host"),
			Port:     v.GetInt("mailbox.imap.port"),
			Username: v.GetString("mailbox.imap.username"),
			Password: v.GetString("mailbox.imap.password"),
			Mailbox:  v.GetString("mailbox.imap.mailbox"),
		},
	}
	if cfg.IMAP.Password == "" {
		cfg.IMAP.Password = os.Getenv("IMAP_PASSWORD")
	}

	switch cfg.Provider {
	case ProviderGmail:
	case ProviderIMAP:
		if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" {
			return MailboxConfig{}, fmt.Errorf("%w: mailbox.imap.host and mailbox.imap.username", common.ErrMissingConfig)
		}
	default:
		return MailboxConfig{}, fmt.Errorf("%w: mailbox.provider %q (want gmail or imap)", common.ErrInvalidConfig, cfg.Provider)
	}
	return cfg, nil
}

// LoadExtractOptions reads the extract.* keys on top of extract.DefaultOptions.
func LoadExtractOptions(v *viper.Viper) (extract.Options, error) {
	opts := extract.DefaultOptions()
	opts.DefaultCurrency = strings.ToUpper(strings.TrimSpace(v.GetString("extract.default_currency")))
	opts.DateSlack = v.GetDuration("extract.date_slack")
	opts.MaxBodyChars = v.GetInt("extract.max_body_chars")
	opts.Timeout = v.GetDuration("pipeline.extract_timeout")

	switch {
	case len(opts.DefaultCurrency) != 3:
		return extract.Options{}, fmt.Errorf("%w: extract.default_currency %q is not a 3-letter code",
			common.ErrInvalidConfig, opts.DefaultCurrency)
	case opts.DateSlack <= 0:
		return extract.Options{}, fmt.Errorf("%w: extract.date_slack must be positive", common.ErrInvalidConfig)
	case opts.MaxBodyChars <= 0:
		return extract.Options{}, fmt.Errorf("%w: extract.max_body_chars must be positive", common.ErrInvalidConfig)
	case opts.Timeout <= 0:
		return extract.Options{}, fmt.Errorf("%w: pipeline.extract_timeout must be positive", common.ErrInvalidConfig)
	}
	return opts, nil
}

// LoadPrefilterOptions reads the extra prefilter words.
func LoadPrefilterOptions(v *viper.Viper) prefilter.Options {
	return prefilter.Options{
		Keywords:        v.GetStringSlice("prefilter.keywords"),
		NegativePhrases: v.GetStringSlice("prefilter.negative_phrases"),
	}
}

// LoadPipelineConfig reads the pipeline.* keys.
func LoadPipelineConfig(v *viper.Viper) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	basis, err := engine.ParseCountBasis(v.GetString("pipeline.count_basis"))
	if err != nil {
		return engine.Config{}, err
	}
	cfg.CountBasis = basis

	cfg.FetchTimeout = v.GetDuration("pipeline.fetch_timeout")
	if cfg.FetchTimeout <= 0 {
		return engine.Config{}, fmt.Errorf("%w: pipeline.fetch_timeout must be positive", common.ErrInvalidConfig)
	}
	return cfg, nil
}

// SchedulerConfig holds the scheduler keys that are not runtime settings.
type SchedulerConfig struct {
	SettingsFile string
	LookbackDays int
	MaxRangeDays int
}

// LoadSchedulerConfig reads the scheduler.* keys.
func LoadSchedulerConfig(v *viper.Viper) (SchedulerConfig, error) {
	cfg := SchedulerConfig{
		SettingsFile: ExpandPath(v.GetString("scheduler.settings_file")),
		LookbackDays: v.GetInt("scheduler.lookback_days"),
		MaxRangeDays: v.GetInt("scheduler.max_range_days"),
	}
	switch {
	case cfg.LookbackDays < 1:
		return SchedulerConfig{}, fmt.Errorf("%w: scheduler.lookback_days must be at least 1", common.ErrInvalidConfig)
	case cfg.MaxRangeDays < 1:
		return SchedulerConfig{}, fmt.Errorf("%w: scheduler.max_range_days must be at least 1", common.ErrInvalidConfig)
	case cfg.SettingsFile == "":
		return SchedulerConfig{}, fmt.Errorf("%w: scheduler.settings_file", common.ErrMissingConfig)
	}
	return cfg, nil
}

// NotifyConfig selects how summaries are delivered.
type NotifyConfig struct {
	Method string
	From   string
	To     []string
	SMTP   notify.SMTPConfig
}

// LoadNotifyConfig reads the notify.* keys. SMTP_PASSWORD is honored when
// notify.smtp.password is unset.
func LoadNotifyConfig(v *viper.Viper) (NotifyConfig, error) {
	cfg := NotifyConfig{
		Method: strings.ToLower(v.GetString("notify.method")),
		From:   v.GetString("notify.from"),
		To:     v.GetStringSlice("notify.to"),
	}
	cfg.SMTP = notify.SMTPConfig{
		Host:     v.GetString("notify.smtp.host"),
		Port:     v.GetInt("notify.smtp.port"),
		Username: v.GetString("notify.smtp.username"),
		Password: v.GetString("notify.smtp.password"),
		From:     cfg.From,
		To:       cfg.To,
	}
	if cfg.SMTP.Password == "" {
		cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	}

	switch cfg.Method {
	case NotifySMTP, NotifyGmail:
	default:
		return NotifyConfig{}, fmt.Errorf("%w: notify.method %q (want smtp or gmail)", common.ErrInvalidConfig, cfg.Method)
	}
	if len(cfg.To) == 0 {
		return NotifyConfig{}, fmt.Errorf("%w: notify.to", common.ErrMissingConfig)
	}
	return cfg, nil
}
