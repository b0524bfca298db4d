// Package datarecording stores archive rows in SQLite databases. Each table is
// created from a sample struct whose exported fields become the columns.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Errors returned by the recorder.
var (
	ErrFileExists     = errors.New("database file already exists")
	ErrUnknownTable   = errors.New("table does not exist")
	ErrInvalidEntry   = errors.New("entry has a field that cannot be stored")
	ErrRecorderClosed = errors.New("recorder is closed")
)

// DefaultBatchSize is the number of buffered rows that triggers a flush.
const DefaultBatchSize = 1000

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of sampleEntry.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of all tables created so far.
	ListTables() []string

	// Flush writes all buffered entries into the database.
	Flush() error

	// Close flushes and closes the database.
	Close() error
}

// Open creates a new database file at path + ".sqlite3". An empty path picks a
// unique name. Buffered rows are flushed when the process exits through
// atexit.
func Open(path string, batchSize int) (DataRecorder, error) {
	if path == "" {
		path = "phobos_archive_" + xid.New().String()
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileExists)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	w := newWriter(db, batchSize)
	w.filename = filename

	atexit.Register(func() { _ = w.Flush() })

	return w, nil
}

// NewWithDB creates a new DataRecorder with a given database.
func NewWithDB(db *sql.DB, batchSize int) DataRecorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return newWriter(db, batchSize)
}

func newWriter(db *sql.DB, batchSize int) *sqliteWriter {
	return &sqliteWriter{
		DB:        db,
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that writes data into SQLite database
type sqliteWriter struct {
	*sql.DB

	lock       sync.Mutex
	filename   string
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return ErrInvalidEntry
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s: %w", field.Name, ErrInvalidEntry)
		}
	}

	return nil
}

func (t *sqliteWriter) CreateTable(tableName string, sampleEntry any) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return ErrRecorderClosed
	}

	if err := checkStructFields(sampleEntry); err != nil {
		return err
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")
	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`

	if _, err := t.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	t.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}
	t.tableOrder = append(t.tableOrder, tableName)

	return nil
}

func (t *sqliteWriter) InsertData(tableName string, entry any) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return ErrRecorderClosed
	}

	tbl, exists := t.tables[tableName]
	if !exists {
		return fmt.Errorf("%s: %w", tableName, ErrUnknownTable)
	}

	if reflect.TypeOf(entry) != tbl.structType {
		return fmt.Errorf("%s expects %s, got %T: %w",
			tableName, tbl.structType, entry, ErrInvalidEntry)
	}

	tbl.entries = append(tbl.entries, entry)
	t.entryCount++

	if t.entryCount >= t.batchSize {
		return t.flush()
	}

	return nil
}

func (t *sqliteWriter) ListTables() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	tables := make([]string, len(t.tableOrder))
	copy(tables, t.tableOrder)

	return tables
}

func (t *sqliteWriter) Flush() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil
	}

	return t.flush()
}

func (t *sqliteWriter) flush() error {
	if t.entryCount == 0 {
		return nil
	}

	tx, err := t.Begin()
	if err != nil {
		return err
	}

	var flushed []*table

	for _, tableName := range t.tableOrder {
		tbl := t.tables[tableName]
		if len(tbl.entries) == 0 {
			continue
		}

		if err := insertAll(tx, tableName, tbl.entries); err != nil {
			_ = tx.Rollback()
			return err
		}

		flushed = append(flushed, tbl)
	}

	// Buffers are only dropped once the rows are committed, so a failed
	// flush can be retried without losing rows.
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, tbl := range flushed {
		tbl.entries = nil
	}

	t.entryCount = 0

	return nil
}

func insertAll(tx *sql.Tx, tableName string, entries []any) error {
	placeholders := structs.Names(entries[0])
	for i := range placeholders {
		placeholders[i] = "?"
	}

	sqlStr := "INSERT INTO " + tableName +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"

	stmt, err := tx.Prepare(sqlStr)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		values := structs.Values(entry)
		if _, err := stmt.Exec(values...); err != nil {
			return fmt.Errorf("insert into %s: %w", tableName, err)
		}
	}

	return nil
}

func (t *sqliteWriter) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil
	}

	flushErr := t.flush()
	t.closed = true

	return errors.Join(flushErr, t.DB.Close())
}
