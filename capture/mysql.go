package capture

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"

	// Need to use MySQL connections.
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// NewMySQL creates a Recorder that stores the session in a fresh
// xid-named MySQL database. Connection settings come from the
// GPUPROBE_DB_* environment variables.
func NewMySQL() Recorder {
	r := &mysqlRecorder{
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	r.conn.connect("")
	r.createDatabase()

	atexit.Register(func() { r.Flush() })

	return r
}

type mysqlRecorder struct {
	conn dbConnection

	dbName     string
	tables     map[string]*table
	batchSize  int
	entryCount int
}

func (r *mysqlRecorder) createDatabase() {
	r.dbName = "gpuprobe_capture_" + xid.New().String()
	log.Printf("Capture is collected in database: %s\n", r.dbName)

	r.conn.mustExecute("CREATE DATABASE " + r.dbName)
	r.conn.mustExecute("USE " + r.dbName)
}

func (r *mysqlRecorder) CreateTable(name string, sample any) {
	mustBeFlat(sample)

	t := reflect.TypeOf(sample)

	var cols []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		cols = append(cols, f.Name+" "+mysqlType(f.Type.Kind()))
	}

	r.conn.mustExecute("CREATE TABLE " + name +
		" (\n\t" + strings.Join(cols, ",\n\t") + "\n)")

	r.tables[name] = &table{
		structType: t,
		entries:    []any{},
	}
}

func mysqlType(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "varchar(500) null"
	case reflect.Bool:
		return "tinyint null"
	case reflect.Float32, reflect.Float64:
		return "double null"
	case reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64:
		return "bigint unsigned null"
	default:
		return "bigint null"
	}
}

func (r *mysqlRecorder) Insert(name string, entry any) {
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

func (r *mysqlRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

// Flush writes each table out as one multi-row INSERT.
func (r *mysqlRecorder) Flush() {
	if r.entryCount == 0 {
		return
	}

	for name, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		marks := "(" + strings.TrimSuffix(
			strings.Repeat("?, ", t.structType.NumField()), ", ") + "),"

		sqlStr := "INSERT INTO " + name + " VALUES "
		vals := []any{}

		for _, entry := range t.entries {
			sqlStr += marks
			vals = append(vals, fieldValues(entry)...)
		}

		sqlStr = strings.TrimSuffix(sqlStr, ",")

		stmt, err := r.conn.Prepare(sqlStr)
		if err != nil {
			panic(err)
		}

		_, err = stmt.Exec(vals...)
		if err != nil {
			panic(err)
		}

		err = stmt.Close()
		if err != nil {
			panic(err)
		}

		t.entries = nil
	}

	r.entryCount = 0
}

func (r *mysqlRecorder) Close() error {
	r.Flush()
	return r.conn.Close()
}

// dbConnection holds a MySQL connection configured through the
// environment: GPUPROBE_DB_USERNAME, GPUPROBE_DB_PASSWORD,
// GPUPROBE_DB_IP, and GPUPROBE_DB_PORT.
type dbConnection struct {
	*sql.DB

	username  string
	password  string
	ipAddress string
	port      int
}

func (c *dbConnection) connect(dbName string) {
	c.getCredentials()

	connectStr := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		c.username, c.password, c.ipAddress, c.port, dbName)
	db, err := sql.Open("mysql", connectStr)
	if err != nil {
		panic(err)
	}

	c.DB = db
}

func (c *dbConnection) getCredentials() {
	c.username = os.Getenv("GPUPROBE_DB_USERNAME")
	if c.username == "" {
		panic("database username is not set, " +
			"use environment variable GPUPROBE_DB_USERNAME to set it")
	}

	c.password = os.Getenv("GPUPROBE_DB_PASSWORD")

	c.ipAddress = os.Getenv("GPUPROBE_DB_IP")
	if c.ipAddress == "" {
		c.ipAddress = "127.0.0.1"
	}

	portString := os.Getenv("GPUPROBE_DB_PORT")
	if portString == "" {
		portString = "3306"
	}
	port, err := strconv.Atoi(portString)
	if err != nil {
		panic(err)
	}
	c.port = port
}

func (c *dbConnection) mustExecute(query string) sql.Result {
	res, err := c.Exec(query)
	if err != nil {
		panic(fmt.Errorf("executing %q: %w", query, err))
	}

	return res
}
