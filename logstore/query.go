package logstore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/pgcache/logger"
)

// SearchMode selects keyword matching behavior (spec.md §4.11,
// supplemented per the original's two independent knobs rather than
// a single case-sensitivity bool).
type SearchMode int

const (
	SearchNone SearchMode = iota
	SearchCaseSensitive
	SearchCaseInsensitive
)

// QueryParams bounds and filters a range query.
type QueryParams struct {
	From, To  int64 // inclusive epoch range
	Keyword   string
	Mode      SearchMode
	Ascending bool
	Quota     int // 0 means unbounded

	Cancel   <-chan struct{} // closed to request early stop
	Deadline time.Time       // zero means no deadline
}

// Result is one matched, decompressed log record.
type Result struct {
	Timestamp int64
	Lines     []byte
	NumLines  int64
}

func (p QueryParams) validate() error {
	if p.From > p.To {
		return ErrInvalidRequest
	}
	return nil
}

// Query runs a single-source range+keyword query (spec.md §4.11).
// Rows are read in Timestamp order, decompressed, keyword-filtered,
// and appended to the result buffer, checking Cancel and Deadline
// between rows.
func (s *Source) Query(p QueryParams) ([]Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	// Queries share the writer lock rather than a separate RWMutex: a
	// rotation in progress renames the very files a concurrent read
	// would be indexing into by blob slot, so the simpler serialized
	// model is used here instead of pgc's partition-RWLock approach.
	s.mu.Lock()
	defer s.mu.Unlock()

	order := "ASC"
	if !p.Ascending {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT l.Timestamp, l.Blob_Offset, l.Msg_compr_size, l.Msg_decompr_size, l.Num_lines, b.Filename
		FROM %s l JOIN %s b ON l.FK_Blob_Id = b.Id
		WHERE l.Timestamp >= ? AND l.Timestamp <= ?
		ORDER BY l.Timestamp %s`, logsTable, blobsTable, order)

	rows, err := s.meta.db.Query(query, p.From, p.To)
	if err != nil {
		return nil, errors.Wrap(err, "logstore: query logs")
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		if cancelledOrExpired(p.Cancel, p.Deadline) {
			return out, ErrCancelledOrTimeout(p)
		}

		var ts, offset, comprSize, decomprSize, numLines int64
		var filename string
		if err := rows.Scan(&ts, &offset, &comprSize, &decomprSize, &numLines, &filename); err != nil {
			return nil, errors.Wrap(err, "logstore: scan log row")
		}
		idx, err := parseBlobIndex(filename)
		if err != nil {
			return nil, err
		}
		decoded, err := s.readAt(idx, offset, comprSize, decomprSize)
		if err != nil {
			return nil, err
		}
		if !matchesKeyword(decoded, p.Keyword, p.Mode) {
			continue
		}
		out = append(out, Result{Timestamp: ts, Lines: decoded, NumLines: numLines})
		if p.Quota > 0 && len(out) >= p.Quota {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return out, errors.Wrap(err, "logstore: iterate log rows")
	}
	if len(out) == 0 {
		return out, ErrNoResults
	}
	return out, nil
}

func cancelledOrExpired(cancel <-chan struct{}, deadline time.Time) bool {
	if cancel != nil {
		select {
		case <-cancel:
			return true
		default:
		}
	}
	return !deadline.IsZero() && time.Now().After(deadline)
}

// ErrCancelledOrTimeout picks the specific sentinel for a query that
// stopped early (spec.md §5: "checks a cancellation flag and a
// monotonic deadline between rows; when either triggers it truncates
// results and reports a specific error kind").
func ErrCancelledOrTimeout(p QueryParams) error {
	if p.Cancel != nil {
		select {
		case <-p.Cancel:
			return ErrCancelled
		default:
		}
	}
	return ErrTimeout
}

func matchesKeyword(data []byte, keyword string, mode SearchMode) bool {
	if mode == SearchNone || keyword == "" {
		return true
	}
	text := string(data)
	if mode == SearchCaseInsensitive {
		return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
	}
	return strings.Contains(text, keyword)
}

// Compound runs a multi-source UNION-ALL query (spec.md §4.11):
// each source's metadata database is attached read-only to a
// transient connection, and a view over all of them is queried in
// Timestamp order. The resulting rows are then resolved back to
// decompressed bytes by looking up the owning Source's own blob
// ring, which lets each source keep its independently chosen Codec
// (spec.md supplement, see DESIGN.md).
func Compound(sources []*Source, p QueryParams) ([]Result, error) {
	if len(sources) == 0 {
		return nil, ErrNoMatchingSource
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	// Hold every participating source's writer lock for the whole call,
	// the same rationale as Query's single-source lock: a rotation
	// renames the very files the ATTACHed read-only connection and the
	// later readAt calls resolve by blob slot. Locked in a stable order
	// (by Dir, unique per open Source) regardless of the caller's slice
	// order, so two concurrent Compound calls over overlapping source
	// sets can't deadlock.
	locked := append([]*Source(nil), sources...)
	sort.Slice(locked, func(i, j int) bool { return locked[i].Dir < locked[j].Dir })
	for _, src := range locked {
		src.mu.Lock()
	}
	defer func() {
		for _, src := range locked {
			src.mu.Unlock()
		}
	}()

	tmp, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, errors.Wrap(err, "logstore: open transient compound connection")
	}
	defer tmp.Close()

	var branches []string
	for i, src := range sources {
		alias := fmt.Sprintf("src%d", i)
		attachDSN := fmt.Sprintf("file:%s?mode=ro", src.meta.path)
		if _, err := tmp.Exec(fmt.Sprintf(`ATTACH DATABASE '%s' AS %s;`, attachDSN, alias)); err != nil {
			return nil, errors.Wrapf(err, "logstore: attach source %s", src.Tag)
		}
		defer tmp.Exec(fmt.Sprintf(`DETACH DATABASE %s;`, alias))

		branches = append(branches, fmt.Sprintf(
			`SELECT l.Timestamp AS Timestamp, l.Blob_Offset AS Blob_Offset, l.Msg_compr_size AS Msg_compr_size,
			        l.Msg_decompr_size AS Msg_decompr_size, l.Num_lines AS Num_lines, b.Filename AS Filename, %d AS SrcIdx
			 FROM %s.%s l JOIN %s.%s b ON l.FK_Blob_Id = b.Id
			 WHERE l.Timestamp >= %d AND l.Timestamp <= %d`,
			i, alias, logsTable, alias, blobsTable, p.From, p.To))
	}

	order := "ASC"
	if !p.Ascending {
		order = "DESC"
	}
	viewQuery := fmt.Sprintf(`CREATE TEMP VIEW compound_view AS %s;`, strings.Join(branches, " UNION ALL "))
	if _, err := tmp.Exec(viewQuery); err != nil {
		return nil, errors.Wrap(err, "logstore: create compound view")
	}
	defer tmp.Exec(`DROP VIEW IF EXISTS compound_view;`)

	rows, err := tmp.Query(fmt.Sprintf(`SELECT Timestamp, Blob_Offset, Msg_compr_size, Msg_decompr_size, Num_lines, Filename, SrcIdx
		FROM compound_view ORDER BY Timestamp %s;`, order))
	if err != nil {
		return nil, errors.Wrap(err, "logstore: query compound view")
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		if cancelledOrExpired(p.Cancel, p.Deadline) {
			return out, ErrCancelledOrTimeout(p)
		}
		var ts, offset, comprSize, decomprSize, numLines int64
		var filename string
		var srcIdx int
		if err := rows.Scan(&ts, &offset, &comprSize, &decomprSize, &numLines, &filename, &srcIdx); err != nil {
			return nil, errors.Wrap(err, "logstore: scan compound row")
		}
		if srcIdx < 0 || srcIdx >= len(sources) {
			logger.Warnf("logstore: compound query row with out-of-range source index %d", srcIdx)
			continue
		}
		idx, err := parseBlobIndex(filename)
		if err != nil {
			return nil, err
		}
		decoded, err := sources[srcIdx].readAt(idx, offset, comprSize, decomprSize)
		if err != nil {
			return nil, err
		}
		if !matchesKeyword(decoded, p.Keyword, p.Mode) {
			continue
		}
		out = append(out, Result{Timestamp: ts, Lines: decoded, NumLines: numLines})
		if p.Quota > 0 && len(out) >= p.Quota {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return out, errors.Wrap(err, "logstore: iterate compound rows")
	}
	if len(out) == 0 {
		return out, ErrNoResults
	}
	return out, nil
}
