package capture

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseOptions configures NewClickHouse. Zero values fall back to
// a local server and a 100k-row batch.
type ClickHouseOptions struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	BatchSize int
}

// NewClickHouse creates a Recorder over a native ClickHouse
// connection. Rows go out in PrepareBatch blocks, one per table, which
// is what keeps high-volume walk captures cheap.
func NewClickHouse(opt ClickHouseOptions) Recorder {
	if opt.Host == "" {
		opt.Host = "127.0.0.1"
	}
	if opt.Port == 0 {
		opt.Port = 9000
	}
	if opt.BatchSize == 0 {
		opt.BatchSize = 100000
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opt.Host, opt.Port)},
		Auth: clickhouse.Auth{
			Database: opt.Database,
			Username: opt.Username,
			Password: opt.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		panic(fmt.Errorf("failed to connect to ClickHouse: %w", err))
	}

	err = conn.Ping(context.Background())
	if err != nil {
		panic(fmt.Errorf("failed to ping ClickHouse: %w", err))
	}

	r := &clickhouseRecorder{
		conn:      conn,
		batchSize: opt.BatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type clickhouseRecorder struct {
	conn clickhouse.Conn

	tables     map[string]*table
	batchSize  int
	entryCount int
}

func (r *clickhouseRecorder) CreateTable(name string, sample any) {
	mustBeFlat(sample)

	t := reflect.TypeOf(sample)

	var cols []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		cols = append(cols, f.Name+" "+clickhouseType(f.Type.Kind()))
	}

	ddl := "CREATE TABLE IF NOT EXISTS " + name +
		" (\n\t" + strings.Join(cols, ",\n\t") + "\n)" +
		" ENGINE = MergeTree() ORDER BY tuple()"

	err := r.conn.Exec(context.Background(), ddl)
	if err != nil {
		panic(fmt.Errorf("creating table %s: %w", name, err))
	}

	r.tables[name] = &table{
		structType: t,
		entries:    []any{},
	}
}

func clickhouseType(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "String"
	case reflect.Bool:
		return "Bool"
	case reflect.Float32, reflect.Float64:
		return "Float64"
	case reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64:
		return "UInt64"
	default:
		return "Int64"
	}
}

func (r *clickhouseRecorder) Insert(name string, entry any) {
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

func (r *clickhouseRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *clickhouseRecorder) Flush() {
	if r.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for name, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+name)
		if err != nil {
			panic(fmt.Errorf("preparing batch for %s: %w", name, err))
		}

		for _, entry := range t.entries {
			err = batch.Append(columnValues(entry)...)
			if err != nil {
				panic(err)
			}
		}

		err = batch.Send()
		if err != nil {
			panic(fmt.Errorf("sending batch for %s: %w", name, err))
		}

		t.entries = nil
	}

	r.entryCount = 0
}

func (r *clickhouseRecorder) Close() error {
	r.Flush()
	return r.conn.Close()
}

// columnValues widens each field to the column type CreateTable
// declared for its kind.
func columnValues(entry any) []any {
	v := reflect.ValueOf(entry)

	vals := make([]any, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)

		switch f.Kind() {
		case reflect.String:
			vals = append(vals, f.String())
		case reflect.Bool:
			vals = append(vals, f.Bool())
		case reflect.Float32, reflect.Float64:
			vals = append(vals, f.Float())
		case reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64:
			vals = append(vals, f.Uint())
		default:
			vals = append(vals, f.Int())
		}
	}

	return vals
}
