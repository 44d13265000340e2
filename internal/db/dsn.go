package db

import (
	"fmt"
	"net/url"
	"strings"
)

// MigrationURL returns dsn in the postgres:// form golang-migrate's postgres
// driver registers under. postgresql:// and scheme-less DSNs are accepted.
func MigrationURL(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "postgres":
	case "postgresql":
		u.Scheme = "postgres"
	default:
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return u.String(), nil
}
