package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Kalshi
	out.Kalshi = cfg.Kalshi
	redact(&out.Kalshi.ApiKeyID)
	redact(&out.Kalshi.KeyPassword)

	// Sentiment
	out.Sentiment = cfg.Sentiment
	redact(&out.Sentiment.ApiKey)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.ApiKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Markets.Tickers != nil {
		out.Markets.Tickers = make([]string, len(cfg.Markets.Tickers))
		copy(out.Markets.Tickers, cfg.Markets.Tickers)
	}
	if cfg.Markets.Categories != nil {
		out.Markets.Categories = make([]string, len(cfg.Markets.Categories))
		copy(out.Markets.Categories, cfg.Markets.Categories)
	}
	if cfg.Strategy.Active != nil {
		out.Strategy.Active = make([]string, len(cfg.Strategy.Active))
		copy(out.Strategy.Active, cfg.Strategy.Active)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Strategy.Weights != nil {
		out.Strategy.Weights = make(map[string]float64, len(cfg.Strategy.Weights))
		for k, v := range cfg.Strategy.Weights {
			out.Strategy.Weights[k] = v
		}
	}
	if cfg.Strategy.SentimentEnsemble.ModelWeights != nil {
		out.Strategy.SentimentEnsemble.ModelWeights = make(map[string]float64, len(cfg.Strategy.SentimentEnsemble.ModelWeights))
		for k, v := range cfg.Strategy.SentimentEnsemble.ModelWeights {
			out.Strategy.SentimentEnsemble.ModelWeights[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
