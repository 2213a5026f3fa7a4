package runtime

import (
	"errors"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

// BuildPostgresDSN returns the configured Postgres DSN, or an error when the
// draft store is not configured.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("config is nil")
	}
	if !cfg.Storage.Postgres.Enabled() {
		return "", errors.New("postgres configuration incomplete: url or host/dbname required")
	}
	return cfg.Storage.Postgres.DSN(), nil
}
