// Package login enforces that a connecting client's username/host pair
// exists in the protected server's privilege table. The permission set is
// built once at startup with an administrative account and is read-only
// afterwards.
package login

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

// Filter maps usernames to the host patterns they may connect from. Host
// patterns use MySQL's LIKE-style wildcards and are compiled to anchored
// regexes with the same conversion the query analyser uses. An empty filter
// permits every login.
type Filter struct {
	userHosts map[string][]*regexp.Regexp
}

// Config locates the protected server and the account used to read the
// privilege table. Exactly one of Host/Port or Socket must be set.
type Config struct {
	Host     string
	Port     int
	Socket   string
	Username string
	Password string
}

// Load connects to the server and reads the user/host rows of the mysql
// database. A failed connection yields an empty, permit-all filter with a
// warning, matching the behaviour of running without an admin account.
func Load(cfg Config) *Filter {
	f := &Filter{userHosts: make(map[string][]*regexp.Regexp)}
	if cfg.Username == "" {
		log.Printf("[login] no admin credentials; login filtering disabled")
		return f
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = "mysql"
	mc.Timeout = 10 * time.Second
	if cfg.Socket != "" {
		mc.Net = "unix"
		mc.Addr = cfg.Socket
	} else {
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		log.Printf("[login] cannot open admin connection: %v; login filtering disabled", err)
		return f
	}
	defer db.Close()

	rows, err := db.Query("SELECT User, Host FROM user")
	if err != nil {
		log.Printf("[login] cannot read privilege table: %v; login filtering disabled", err)
		return f
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var user, host string
		if err := rows.Scan(&user, &host); err != nil {
			log.Printf("[login] scanning privilege row: %v; login filtering disabled", err)
			return &Filter{userHosts: make(map[string][]*regexp.Regexp)}
		}
		f.add(user, host)
		// The server treats localhost and 127.0.0.1 as distinct hosts;
		// admitting both here defers the real decision to the server.
		if host == "localhost" {
			f.add(user, "127.0.0.1")
		}
		count++
	}
	if err := rows.Err(); err != nil {
		log.Printf("[login] reading privilege table: %v; login filtering disabled", err)
		return &Filter{userHosts: make(map[string][]*regexp.Regexp)}
	}

	log.Printf("[login] loaded %d user/host entries", count)
	return f
}

// NewStatic builds a filter from explicit user to host-pattern entries,
// bypassing the server read. Patterns use the same LIKE-style wildcards as
// the privilege table.
func NewStatic(entries map[string][]string) *Filter {
	f := &Filter{userHosts: make(map[string][]*regexp.Regexp)}
	for user, hosts := range entries {
		for _, h := range hosts {
			f.add(user, h)
		}
	}
	return f
}

func (f *Filter) add(user, hostPattern string) {
	re, err := regexp.Compile(sqlparse.LikeToRegex(hostPattern))
	if err != nil {
		log.Printf("[login] skipping unusable host pattern %q for user %q: %v", hostPattern, user, err)
		return
	}
	f.userHosts[user] = append(f.userHosts[user], re)
}

// Empty reports whether the filter has no entries (and thus permits all).
func (f *Filter) Empty() bool { return len(f.userHosts) == 0 }

// Allowed reports whether the username may connect from the given host. An
// empty permission set permits everything.
func (f *Filter) Allowed(user, host string) bool {
	if f.Empty() {
		return true
	}
	for _, re := range f.userHosts[user] {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}
