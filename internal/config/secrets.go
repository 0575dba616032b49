package config

const redacted = "***"

// RedactedConfig returns a deep-enough copy of cfg with secret material
// replaced by a placeholder, safe for logging at startup.
func RedactedConfig(cfg Config) Config {
	out := cfg

	out.Markets.Keywords = append([]string(nil), cfg.Markets.Keywords...)

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Polymarket.ApiKey)
	redact(&out.Polymarket.ApiSecret)
	redact(&out.Polymarket.ApiPassphrase)
	redact(&out.Postgres.Password)
	redactDSN(&out.Postgres.DSN)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	return out
}

// redact blanks a secret in place, leaving empty values empty so the log
// still shows which credentials were provided.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN replaces a whole connection string rather than trying to parse
// the password out of it.
func redactDSN(s *string) {
	if *s != "" {
		*s = redacted
	}
}
