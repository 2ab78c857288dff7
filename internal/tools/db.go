package tools

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

// ConnectSqlite opens the sqlite file at filePath and applies every
// embedded migration, in file name order.
func ConnectSqlite(filePath string, log logrus.FieldLogger) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3, time.Second, log)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func RunMigrations(db *sql.DB) error {
	dirEntries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })
	for _, entry := range dirEntries {
		fileData, err := fs.ReadFile(migrationFiles, path.Join("migration", entry.Name()))
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(fileData)); err != nil {
			return err
		}
	}
	return nil
}

func connectWithBackoff(driver string, connStr string, maxRetries int, step time.Duration, log logrus.FieldLogger) (*sql.DB, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		var db *sql.DB
		db, err = sql.Open(driver, connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		log.WithField("attempt", i+1).Warnf("Failed attempt to connect to %s: %v", driver, err)
		time.Sleep(time.Duration(i+1) * step)
	}
	return nil, err
}
