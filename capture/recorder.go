// Package capture stores what a probe session observes, so a debugging
// run can be queried after the fact: every walked page, every table
// entry visited, every decoded packet. SQLite is the primary backend;
// MySQL and ClickHouse cover shared setups.
package capture

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A Recorder stores rows into a capture backend. Schemas come from
// flat sample structs; errors are treated as fatal misconfiguration
// and panic.
type Recorder interface {
	// CreateTable creates a table shaped like the sample struct.
	CreateTable(name string, sample any)

	// Insert buffers one row of the same type the table was created
	// with.
	Insert(name string, entry any)

	// ListTables names every table this recorder created.
	ListTables() []string

	// Flush writes all buffered rows out.
	Flush()

	// Close flushes and releases the backend.
	Close() error
}

// New creates a SQLite-backed Recorder. An empty path picks a
// xid-suffixed filename in the working directory.
func New(path string) Recorder {
	r := &sqliteRecorder{
		path:      path,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	r.open()

	atexit.Register(func() { r.Flush() })

	return r
}

// NewWithDB creates a SQLite-backed Recorder over an existing
// connection.
func NewWithDB(db *sql.DB) Recorder {
	r := &sqliteRecorder{
		db:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	db *sql.DB

	path       string
	tables     map[string]*table
	batchSize  int
	entryCount int
}

func (r *sqliteRecorder) open() {
	if r.path == "" {
		r.path = "gpuprobe_capture_" + xid.New().String()
	}

	filename := r.path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Capture database: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	r.db = db
}

func (r *sqliteRecorder) CreateTable(name string, sample any) {
	mustBeFlat(sample)

	fields := strings.Join(structs.Names(sample), ", \n\t")
	r.mustExecute(`CREATE TABLE ` + name +
		` (` + "\n\t" + fields + "\n" + `);`)

	r.tables[name] = &table{
		structType: reflect.TypeOf(sample),
		entries:    []any{},
	}
}

func (r *sqliteRecorder) Insert(name string, entry any) {
	t, exists := r.tables[name]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", name))
	}

	t.entries = append(t.entries, entry)

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *sqliteRecorder) Flush() {
	if r.entryCount == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for name, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		stmt := r.prepareInsert(name, t.entries[0])

		for _, entry := range t.entries {
			_, err := stmt.Exec(fieldValues(entry)...)
			if err != nil {
				panic(err)
			}
		}

		t.entries = nil
		stmt.Close()
	}

	r.entryCount = 0
}

func (r *sqliteRecorder) Close() error {
	r.Flush()
	return r.db.Close()
}

func (r *sqliteRecorder) mustExecute(query string) sql.Result {
	res, err := r.db.Exec(query)
	if err != nil {
		panic(fmt.Errorf("executing %q: %w", query, err))
	}

	return res
}

func (r *sqliteRecorder) prepareInsert(name string, sample any) *sql.Stmt {
	marks := structs.Names(sample)
	for i := range marks {
		marks[i] = "?"
	}

	stmt, err := r.db.Prepare(
		"INSERT INTO " + name + " VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}

// fieldValues flattens a record struct in field order.
func fieldValues(entry any) []any {
	v := reflect.ValueOf(entry)

	vals := make([]any, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		vals = append(vals, v.Field(i).Interface())
	}

	return vals
}

// mustBeFlat rejects sample structs with fields no backend can store.
func mustBeFlat(sample any) {
	t := reflect.TypeOf(sample)

	for i := 0; i < t.NumField(); i++ {
		switch t.Field(i).Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
		default:
			panic(fmt.Sprintf("field %s of %s cannot be recorded",
				t.Field(i).Name, t.Name()))
		}
	}
}
