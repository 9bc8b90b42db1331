package perplexity

import "time"

const (
	providerName = "perplexity"

	DefaultBaseURL     = "https://api.perplexity.ai"
	DefaultModel       = "sonar"
	DefaultSearchModel = "sonar-pro"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 800
	DefaultTimeout     = 30 * time.Second

	recencyMonth = "month"
)

// Config configures the Perplexity client.
type Config struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model" yaml:"model"`
	SearchModel string        `json:"search_model" yaml:"search_model"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	// RateLimit is requests per second; 0 disables client-side limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
	// SearchDomainFilter 限定检索域名，仅 search 模式发送，空则不限
	SearchDomainFilter []string `json:"search_domain_filter,omitempty" yaml:"search_domain_filter"`
}

// DefaultConfig returns the defaults used by the web client.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		SearchModel: DefaultSearchModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.SearchModel == "" {
		c.SearchModel = d.SearchModel
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}
