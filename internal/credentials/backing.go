// ABOUTME: Read-only lookup of Redmine API tokens straight from the Redmine database
// ABOUTME: Supports MySQL, PostgreSQL (pgx) and SQLite dialects behind database/sql

package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/2389/redmine-bridge/internal/config"
)

// Record is what the database knows about a login.
type Record struct {
	Token  string
	UserID int64
}

// lookupQuery joins the API token to the user through the custom field that
// stores the user's chat login.
const lookupQuery = `
	SELECT t.value, u.id
	FROM tokens AS t
	JOIN users AS u ON t.user_id = u.id
	JOIN custom_values AS cv ON u.id = cv.customized_id
	WHERE cv.custom_field_id = ? AND cv.value = ? AND t.action = 'api'`

// SQLBackingStore queries the Redmine database.
type SQLBackingStore struct {
	db            *sql.DB
	query         string
	customFieldID int
}

// NewSQLBackingStore wraps an open handle. dialect selects placeholder syntax.
func NewSQLBackingStore(db *sql.DB, dialect string, customFieldID int) *SQLBackingStore {
	q := lookupQuery
	if dialect == "postgres" {
		q = rebindDollar(q)
	}
	return &SQLBackingStore{db: db, query: q, customFieldID: customFieldID}
}

// OpenBackingStore opens and pings the database described by cfg.
// password is passed separately because the config value may be encrypted.
func OpenBackingStore(ctx context.Context, cfg config.DatabaseConfig, password string, customFieldID int) (*SQLBackingStore, error) {
	driver, dsn, err := dataSource(cfg, password)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", cfg.Driver, err)
	}

	return NewSQLBackingStore(db, cfg.Driver, customFieldID), nil
}

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg config.DatabaseConfig, password string) (string, string, error) {
	switch cfg.Driver {
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		return "mysql", mc.FormatDSN(), nil

	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, password),
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:   "/" + cfg.Name,
		}
		return "pgx", u.String(), nil

	case "sqlite":
		return "sqlite", "file:" + cfg.Name + "?mode=ro", nil

	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// rebindDollar rewrites ? placeholders as $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LookupCredential returns the API token and user id for login, or ErrUserNotFound.
func (s *SQLBackingStore) LookupCredential(ctx context.Context, login string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, s.query, s.customFieldID, login).Scan(&rec.Token, &rec.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrUserNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("querying api token: %w", err)
	}
	return rec, nil
}

// Close closes the database handle.
func (s *SQLBackingStore) Close() error {
	return s.db.Close()
}
