// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package dbopen turns PREFIX_* environment variables into a PostgreSQL
// connection URL.
package dbopen

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// Settings are the connection parts read from the environment.
type Settings struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	AppName  string
}

// SettingsFromEnv reads PREFIX_URL, PREFIX_HOST, PREFIX_PORT, PREFIX_USER,
// PREFIX_PASSWORD, PREFIX_DBNAME and PREFIX_SSLMODE. The application name
// comes from OTEL_SERVICE_NAME.
func SettingsFromEnv(prefix string, getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return Settings{
		URL:      getenv(prefix + "URL"),
		Host:     getenv(prefix + "HOST"),
		Port:     getenv(prefix + "PORT"),
		User:     getenv(prefix + "USER"),
		Password: getenv(prefix + "PASSWORD"),
		DBName:   getenv(prefix + "DBNAME"),
		SSLMode:  getenv(prefix + "SSLMODE"),
		AppName:  getenv("OTEL_SERVICE_NAME"),
	}
}

// ConnectionURL builds the URL. An explicit URL wins; otherwise host and
// database name are required and the port defaults to 5432.
func (s Settings) ConnectionURL() (string, error) {
	if s.URL != "" {
		return s.URL, nil
	}

	var missing []string
	if s.Host == "" {
		missing = append(missing, "HOST")
	}
	if s.DBName == "" {
		missing = append(missing, "DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrDatabaseNotConfigured, strings.Join(missing, ", "))
	}

	port := s.Port
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgresql",
		Host:   s.Host + ":" + port,
		Path:   s.DBName,
	}
	switch {
	case s.User != "" && s.Password != "":
		u.User = url.UserPassword(s.User, s.Password)
	case s.User != "":
		u.User = url.User(s.User)
	}

	q := u.Query()
	if s.SSLMode != "" {
		q.Set("sslmode", s.SSLMode)
	}
	if name := applicationName(s.AppName); name != "" {
		q.Set("application_name", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// applicationName keeps letters, digits, dash and underscore, capped at
// PostgreSQL's 63 byte identifier limit.
func applicationName(s string) string {
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

// URLFromEnv is SettingsFromEnv followed by ConnectionURL.
func URLFromEnv(prefix string) (string, error) {
	return SettingsFromEnv(prefix, os.Getenv).ConnectionURL()
}
