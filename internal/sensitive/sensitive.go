// Package sensitive holds the process-wide rules that identify
// password-like column names and user-like table names. The rules are set
// once at startup and are read-only afterwards, so lookups need no locking.
package sensitive

import (
	"fmt"
	"regexp"
	"strings"
)

// Checker matches identifiers against either a substring or a
// case-insensitive regular expression. At least one of the two must be set
// per rule.
type Checker struct {
	passwordRegex     *regexp.Regexp
	passwordSubstring string
	userRegex         *regexp.Regexp
	userSubstring     string
}

// Config selects the matching rules. A non-empty regex takes precedence
// over the corresponding substring.
type Config struct {
	PasswordRegex     string
	PasswordSubstring string
	UserRegex         string
	UserSubstring     string
}

// Defaults returns the stock policy: any column containing "password" or
// "passwd" or named "pw" is a password field, any table containing "user"
// is a user table.
func Defaults() Config {
	return Config{
		PasswordRegex: `password|passwd|^pw$`,
		UserSubstring: "user",
	}
}

// New compiles a checker from the config.
func New(cfg Config) (*Checker, error) {
	c := &Checker{
		passwordSubstring: strings.ToLower(cfg.PasswordSubstring),
		userSubstring:     strings.ToLower(cfg.UserSubstring),
	}
	var err error
	if cfg.PasswordRegex != "" {
		c.passwordRegex, err = regexp.Compile("(?i)" + cfg.PasswordRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling password regex: %w", err)
		}
	}
	if cfg.UserRegex != "" {
		c.userRegex, err = regexp.Compile("(?i)" + cfg.UserRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling user regex: %w", err)
		}
	}
	if c.passwordRegex == nil && c.passwordSubstring == "" {
		return nil, fmt.Errorf("either a password regex or substring must be set")
	}
	if c.userRegex == nil && c.userSubstring == "" {
		return nil, fmt.Errorf("either a user regex or substring must be set")
	}
	return c, nil
}

// IsPasswordField reports whether the column name looks like a password.
func (c *Checker) IsPasswordField(field string) bool {
	if c.passwordRegex != nil {
		return c.passwordRegex.MatchString(field)
	}
	return strings.Contains(strings.ToLower(field), c.passwordSubstring)
}

// IsUserTable reports whether the table name looks like a user table.
func (c *Checker) IsUserTable(table string) bool {
	if c.userRegex != nil {
		return c.userRegex.MatchString(table)
	}
	return strings.Contains(strings.ToLower(table), c.userSubstring)
}
