package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

const tableName = "todos"

const (
	colID        = "id"
	colTitle     = "title"
	colCompleted = "completed"
	colPosition  = "position"
	colPriority  = "priority"
	colDueDate   = "due_date"
)

// Columns that cannot be added after the fact; a table without them is not ours.
var coreColumns = []string{colID, colTitle}

// Columns introduced by later versions, in the order they are added.
var additiveColumns = []string{colCompleted, colPosition, colPriority, colDueDate}

// dialect holds everything that differs between the supported databases.
type dialect struct {
	name         string
	driverName   string
	createTable  string
	columnDDL    map[string]string
	createIndex  string
	columnsQuery string
	versionQuery string
	returning    bool
	prepareDSN   func(string) (string, error)
	dupColumn    func(error) bool
	dupIndex     func(error) bool
}

func Drivers() []string { return []string{"sqlite3", "mysql", "postgres"} }

// DriverName resolves an accepted driver alias to its canonical name.
func DriverName(driver string) (string, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported driver %q", driver)
}

func (d dialect) addColumnDDL(col string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, col, d.columnDDL[col])
}

var sqliteDialect = dialect{
	name:       "sqlite3",
	driverName: "sqlite3",
	createTable: `CREATE TABLE IF NOT EXISTS todos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    priority TEXT NOT NULL DEFAULT 'low',
    due_date TEXT
)`,
	columnDDL: map[string]string{
		colCompleted: "INTEGER NOT NULL DEFAULT 0",
		colPosition:  "INTEGER NOT NULL DEFAULT 0",
		colPriority:  "TEXT NOT NULL DEFAULT 'low'",
		colDueDate:   "TEXT",
	},
	createIndex:  `CREATE INDEX IF NOT EXISTS idx_todos_order ON todos(position, id)`,
	columnsQuery: `SELECT name FROM pragma_table_info('todos') ORDER BY cid`,
	versionQuery: `SELECT sqlite_version()`,
	prepareDSN:   prepareSQLiteDSN,
	dupColumn: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.Code == sqlite3.ErrError &&
			strings.Contains(se.Error(), "duplicate column name")
	},
	dupIndex: func(error) bool { return false },
}

var mysqlDialect = dialect{
	name:       "mysql",
	driverName: "mysql",
	createTable: `CREATE TABLE IF NOT EXISTS todos (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    title VARCHAR(500) NOT NULL,
    completed TINYINT(1) NOT NULL DEFAULT 0,
    position BIGINT NOT NULL DEFAULT 0,
    priority VARCHAR(10) NOT NULL DEFAULT 'low',
    due_date VARCHAR(10) NULL
)`,
	columnDDL: map[string]string{
		colCompleted: "TINYINT(1) NOT NULL DEFAULT 0",
		colPosition:  "BIGINT NOT NULL DEFAULT 0",
		colPriority:  "VARCHAR(10) NOT NULL DEFAULT 'low'",
		colDueDate:   "VARCHAR(10) NULL",
	},
	// MySQL lacks IF NOT EXISTS for CREATE INDEX; a duplicate is reported as 1061.
	createIndex: `CREATE INDEX idx_todos_order ON todos(position, id)`,
	columnsQuery: `SELECT COLUMN_NAME FROM information_schema.COLUMNS
    WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = 'todos'
    ORDER BY ORDINAL_POSITION`,
	versionQuery: `SELECT VERSION()`,
	prepareDSN:   prepareMySQLDSN,
	dupColumn:    func(err error) bool { return mysqlErrNumber(err) == 1060 },
	dupIndex:     func(err error) bool { return mysqlErrNumber(err) == 1061 },
}

var postgresDialect = dialect{
	name:       "postgres",
	driverName: "pgx",
	createTable: `CREATE TABLE IF NOT EXISTS todos (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    position BIGINT NOT NULL DEFAULT 0,
    priority TEXT NOT NULL DEFAULT 'low',
    due_date TEXT
)`,
	columnDDL: map[string]string{
		colCompleted: "BOOLEAN NOT NULL DEFAULT FALSE",
		colPosition:  "BIGINT NOT NULL DEFAULT 0",
		colPriority:  "TEXT NOT NULL DEFAULT 'low'",
		colDueDate:   "TEXT",
	},
	createIndex: `CREATE INDEX IF NOT EXISTS idx_todos_order ON todos(position, id)`,
	columnsQuery: `SELECT column_name FROM information_schema.columns
    WHERE table_schema = current_schema() AND table_name = 'todos'
    ORDER BY ordinal_position`,
	versionQuery: `SHOW server_version`,
	returning:    true,
	prepareDSN:   func(dsn string) (string, error) { return dsn, nil },
	dupColumn:    func(err error) bool { return pgErrCode(err) == "42701" },
	dupIndex:     func(err error) bool { return pgErrCode(err) == "42P07" },
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func prepareSQLiteDSN(dsn string) (string, error) {
	if dsn == "" {
		dsn = "todo.db"
	}
	if isMemoryDSN(dsn) {
		return dsn, nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
	}
	base, rawQuery, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("sqlite dsn: %w", err)
	}
	var extra []string
	if !q.Has("_busy_timeout") && !q.Has("_timeout") {
		extra = append(extra, "_busy_timeout=5000")
	}
	if !q.Has("_journal_mode") && !q.Has("_journal") {
		extra = append(extra, "_journal_mode=WAL")
	}
	if len(extra) == 0 {
		return dsn, nil
	}
	if rawQuery == "" {
		return base + "?" + strings.Join(extra, "&"), nil
	}
	return dsn + "&" + strings.Join(extra, "&"), nil
}

// prepareMySQLDSN turns on CLIENT_FOUND_ROWS so an UPDATE that rewrites a row
// with identical values still reports it as affected.
func prepareMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func pgErrCode(err error) string {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
