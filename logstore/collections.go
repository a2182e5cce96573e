package logstore

import (
	"database/sql"
	"os"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const (
	mainDBFilename        = "main.db"
	collectionsTableName  = "LogCollections"
)

// Collection is one row of the top-level LogCollections table
// (spec.md §6: "Persisted state (log store only)").
type Collection struct {
	ID            int64
	StreamTag     string
	LogSourcePath string
	Type          int
	DBDir         string
}

// Catalog is the top-level main.db registry of every log source
// managed by this instance.
type Catalog struct {
	path string
	db   *sql.DB
}

// OpenCatalog opens (creating if needed) the main.db at rootDir.
func OpenCatalog(rootDir string) (*Catalog, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "logstore: mkdir %s", rootDir)
	}
	path := rootDir + "/" + mainDBFilename
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "logstore: open %s", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA auto_vacuum = INCREMENTAL; PRAGMA synchronous = NORMAL; PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "logstore: configure main db pragmas")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + collectionsTableName + ` (
		Id              INTEGER PRIMARY KEY,
		Stream_Tag      TEXT    NOT NULL,
		Log_Source_Path TEXT    NOT NULL,
		Type            INTEGER NOT NULL,
		DB_Dir          TEXT    NOT NULL,
		UNIQUE(Stream_Tag, DB_Dir)
	);`); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "logstore: create %s", collectionsTableName)
	}

	return &Catalog{path: path, db: db}, nil
}

// Register records a new collection, or is a no-op if one already
// exists with the same (Stream_Tag, DB_Dir).
func (c *Catalog) Register(col Collection) (int64, error) {
	res, err := c.db.Exec(`INSERT OR IGNORE INTO `+collectionsTableName+`
		(Stream_Tag, Log_Source_Path, Type, DB_Dir) VALUES (?, ?, ?, ?)`,
		col.StreamTag, col.LogSourcePath, col.Type, col.DBDir)
	if err != nil {
		return 0, errors.Wrap(err, "logstore: register collection")
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		var existingID int64
		if qerr := c.db.QueryRow(`SELECT Id FROM `+collectionsTableName+` WHERE Stream_Tag = ? AND DB_Dir = ?`,
			col.StreamTag, col.DBDir).Scan(&existingID); qerr != nil {
			return 0, errors.Wrap(qerr, "logstore: resolve existing collection id")
		}
		return existingID, nil
	}
	return id, nil
}

// List returns every registered collection.
func (c *Catalog) List() ([]Collection, error) {
	rows, err := c.db.Query(`SELECT Id, Stream_Tag, Log_Source_Path, Type, DB_Dir FROM ` + collectionsTableName)
	if err != nil {
		return nil, errors.Wrap(err, "logstore: list collections")
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var col Collection
		if err := rows.Scan(&col.ID, &col.StreamTag, &col.LogSourcePath, &col.Type, &col.DBDir); err != nil {
			return nil, errors.Wrap(err, "logstore: scan collection row")
		}
		out = append(out, col)
	}
	return out, errors.Wrap(rows.Err(), "logstore: iterate collections")
}

// Close releases the catalog's database handle.
func (c *Catalog) Close() error {
	return errors.Wrap(c.db.Close(), "logstore: close main db")
}
