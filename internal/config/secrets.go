package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venues carry API credentials; copy the map before redacting.
	if cfg.Venues != nil {
		out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
		for name, v := range cfg.Venues {
			redact(&v.APIKey)
			redact(&v.APISecret)
			redact(&v.APIPassphrase)
			redact(&v.SecretPassword)
			out.Venues[name] = v
		}
	}

	redact(&out.Live.SubgraphAPIKey)
	redact(&out.Live.RPCURL)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through
	// the redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Balances != nil {
		out.Balances = make([]BalanceConfig, len(cfg.Balances))
		copy(out.Balances, cfg.Balances)
	}
	if cfg.Live.BorrowRates != nil {
		out.Live.BorrowRates = make(map[string]float64, len(cfg.Live.BorrowRates))
		for k, v := range cfg.Live.BorrowRates {
			out.Live.BorrowRates[k] = v
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
