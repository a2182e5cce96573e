package logstore

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/zhukovaskychina/pgcache/logger"
)

const (
	blobsTable = "Blobs"
	logsTable  = "Logs"

	metadataDBFilename = "metadata.db"
)

// BlobRow mirrors one row of the Blobs table (spec.md §4.11).
type BlobRow struct {
	ID       int64
	Filename string
	Filesize int64
}

// LogRow mirrors one row of the Logs table.
type LogRow struct {
	ID              int64
	BlobID          int64
	BlobOffset      int64
	Timestamp       int64
	MsgComprSize    int64
	MsgDecomprSize  int64
	NumLines        int64
}

// metaDB wraps a single source's metadata database: Blobs/Logs
// tables plus the blob ring bookkeeping.
type metaDB struct {
	path string
	db   *sql.DB
}

func openMetaDB(dir string, blobCount int) (*metaDB, error) {
	path := dir + "/" + metadataDBFilename
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "logstore: open %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *sql.DB

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "logstore: configure pragmas")
	}

	m := &metaDB{path: path, db: db}
	if err := m.ensureSchema(blobCount); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *metaDB) ensureSchema(blobCount int) error {
	tx, err := m.db.Begin()
	if err != nil {
		return errors.Wrap(err, "logstore: begin schema tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + blobsTable + ` (
		Id       INTEGER PRIMARY KEY,
		Filename TEXT    NOT NULL,
		Filesize INTEGER NOT NULL
	);`); err != nil {
		return errors.Wrapf(err, "logstore: create %s", blobsTable)
	}

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + logsTable + ` (
		Id               INTEGER PRIMARY KEY,
		FK_Blob_Id       INTEGER NOT NULL,
		Blob_Offset      INTEGER NOT NULL,
		Timestamp        INTEGER NOT NULL,
		Msg_compr_size   INTEGER NOT NULL,
		Msg_decompr_size INTEGER NOT NULL,
		Num_lines        INTEGER NOT NULL,
		FOREIGN KEY (FK_Blob_Id) REFERENCES ` + blobsTable + `(Id) ON DELETE CASCADE ON UPDATE CASCADE
	);`); err != nil {
		return errors.Wrapf(err, "logstore: create %s", logsTable)
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS logs_timestamp_idx ON ` + logsTable + `(Timestamp);`); err != nil {
		return errors.Wrap(err, "logstore: create timestamp index")
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM ` + blobsTable).Scan(&count); err != nil {
		return errors.Wrap(err, "logstore: count blobs")
	}
	if count == 0 {
		stmt, err := tx.Prepare(`INSERT INTO ` + blobsTable + ` (Filename, Filesize) VALUES (?, 0)`)
		if err != nil {
			return errors.Wrap(err, "logstore: prepare blob seed insert")
		}
		defer stmt.Close()
		for i := 0; i < blobCount; i++ {
			if _, err := stmt.Exec(blobFilename(i)); err != nil {
				return errors.Wrapf(err, "logstore: seed blob row %d", i)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "logstore: commit schema tx")
}

func blobFilename(i int) string { return fmt.Sprintf("logs.bin.%d", i) }

// blobs returns every Blobs row ordered by Id, the ring's file order.
func (m *metaDB) blobs() ([]BlobRow, error) {
	rows, err := m.db.Query(`SELECT Id, Filename, Filesize FROM ` + blobsTable + ` ORDER BY Id`)
	if err != nil {
		return nil, errors.Wrap(err, "logstore: query blobs")
	}
	defer rows.Close()

	var out []BlobRow
	for rows.Next() {
		var b BlobRow
		if err := rows.Scan(&b.ID, &b.Filename, &b.Filesize); err != nil {
			return nil, errors.Wrap(err, "logstore: scan blob row")
		}
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "logstore: iterate blobs")
}

// appendLogTx inserts one Logs row and bumps the owning blob's
// Filesize, in the same transaction the caller is already holding
// (spec.md §4.11: "records metadata in a single transaction").
func appendLogTx(tx *sql.Tx, blobID int64, offset, ts int64, comprSize, decomprSize, numLines int64) error {
	if _, err := tx.Exec(`INSERT INTO `+logsTable+`
		(FK_Blob_Id, Blob_Offset, Timestamp, Msg_compr_size, Msg_decompr_size, Num_lines)
		VALUES (?, ?, ?, ?, ?, ?)`,
		blobID, offset, ts, comprSize, decomprSize, numLines); err != nil {
		return errors.Wrap(err, "logstore: insert log row")
	}
	if _, err := tx.Exec(`UPDATE `+blobsTable+` SET Filesize = Filesize + ? WHERE Id = ?`, comprSize, blobID); err != nil {
		return errors.Wrap(err, "logstore: update blob filesize")
	}
	return nil
}

// blobIDByFilename returns the Blobs.Id row whose Filename matches,
// used to resolve which row backs a given ring slot.
func (m *metaDB) blobIDByFilename(filename string) (int64, error) {
	var id int64
	err := m.db.QueryRow(`SELECT Id FROM `+blobsTable+` WHERE Filename = ?`, filename).Scan(&id)
	return id, errors.Wrapf(err, "logstore: lookup blob id for %s", filename)
}

// rotateMetadata mirrors blobRing.rotate() on the metadata side: it
// rotates each Blobs row's Filename forward by one ring slot (so
// FK_Blob_Id references keep pointing at the same row even though the
// row's backing file moved), then zeroes the filesize and
// cascade-deletes the Logs rows of whichever row now represents the
// fresh write target (spec.md §4.11: "cascade-delete that blob's
// rows").
func (m *metaDB) rotateMetadata(count int) error {
	tx, err := m.db.Begin()
	if err != nil {
		return errors.Wrap(err, "logstore: begin rotate tx")
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT Id, Filename FROM ` + blobsTable)
	if err != nil {
		return errors.Wrap(err, "logstore: query blobs for rotation")
	}
	type idName struct {
		id   int64
		name string
	}
	var all []idName
	for rows.Next() {
		var r idName
		if err := rows.Scan(&r.id, &r.name); err != nil {
			rows.Close()
			return errors.Wrap(err, "logstore: scan blob row for rotation")
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "logstore: iterate blobs for rotation")
	}

	var newZeroID int64
	for _, r := range all {
		idx, err := parseBlobIndex(r.name)
		if err != nil {
			return err
		}
		newIdx := (idx + 1) % count
		newName := blobFilename(newIdx)
		if newIdx == 0 {
			newZeroID = r.id
		}
		if _, err := tx.Exec(`UPDATE `+blobsTable+` SET Filename = ? WHERE Id = ?`, newName, r.id); err != nil {
			return errors.Wrapf(err, "logstore: rename blob row %d", r.id)
		}
	}

	if _, err := tx.Exec(`UPDATE `+blobsTable+` SET Filesize = 0 WHERE Id = ?`, newZeroID); err != nil {
		return errors.Wrap(err, "logstore: reset rotated blob filesize")
	}
	if _, err := tx.Exec(`DELETE FROM `+logsTable+` WHERE FK_Blob_Id = ?`, newZeroID); err != nil {
		return errors.Wrap(err, "logstore: delete rotated blob's log rows")
	}

	return errors.Wrap(tx.Commit(), "logstore: commit rotate tx")
}

func parseBlobIndex(filename string) (int, error) {
	var idx int
	prefix := "logs.bin."
	if len(filename) <= len(prefix) {
		return 0, errors.Errorf("logstore: malformed blob filename %q", filename)
	}
	if _, err := fmt.Sscanf(filename[len(prefix):], "%d", &idx); err != nil {
		return 0, errors.Wrapf(err, "logstore: parse blob index from %q", filename)
	}
	return idx, nil
}

func (m *metaDB) close() {
	if err := m.db.Close(); err != nil {
		logger.Warnf("logstore: close metadata db %s: %v", m.path, err)
	}
}
