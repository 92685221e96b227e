package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

type dialect struct {
	name         string
	driver       string
	insertIgnore string
	isDuplicate  func(error) bool
	dsn          func(string) string
	configure    func(*sql.DB)
}

var dialects = map[string]dialect{
	BackendSQLite: {
		name:         BackendSQLite,
		driver:       "sqlite",
		insertIgnore: "INSERT OR IGNORE",
		isDuplicate:  isSQLiteDuplicate,
		dsn: func(path string) string {
			if strings.Contains(path, "?") {
				return path
			}
			return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
		},
		configure: func(db *sql.DB) {
			// A single connection serializes writers and keeps :memory: databases coherent.
			db.SetMaxOpenConns(1)
		},
	},
	BackendMySQL: {
		name:         BackendMySQL,
		driver:       "mysql",
		insertIgnore: "INSERT IGNORE",
		isDuplicate:  isMySQLDuplicate,
		dsn: func(dsn string) string {
			cfg, err := mysql.ParseDSN(dsn)
			if err != nil {
				return dsn
			}
			cfg.ParseTime = true
			return cfg.FormatDSN()
		},
		configure: func(db *sql.DB) {},
	},
}

// isSQLiteDuplicate matches primary key and unique violations. The message
// check covers errors that lost their type on the way up.
func isSQLiteDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "primary key must be unique")
}

func isMySQLDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return dialect{}, fmt.Errorf("unknown sql backend %q (supported: %s, %s)", name, BackendSQLite, BackendMySQL)
	}
	return d, nil
}
