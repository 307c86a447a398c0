package capture

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
)

// QueryParams narrows and pages a table query.
type QueryParams struct {
	// Where holds the WHERE clause without the keyword, with ?
	// placeholders filled from Args.
	Where string
	Args  []any

	// Limit of 0 means no limit.
	Limit  int
	Offset int

	// OrderBy without the keywords, e.g. "VA DESC".
	OrderBy string
}

// A Reader opens a capture database read-only.
type Reader struct {
	db *sql.DB

	typeMap map[string]reflect.Type
}

// NewReader opens a capture file written by New.
func NewReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	return &Reader{
		db:      db,
		typeMap: make(map[string]reflect.Type),
	}, nil
}

// NewReaderWithDB wraps an existing connection.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{
		db:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// ListTables names every table in the file, mapped or not.
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// ListRings names the distinct rings in the packets table.
func (r *Reader) ListRings(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT Ring FROM packets ORDER BY Ring")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rings []string
	for rows.Next() {
		var ring string
		if err := rows.Scan(&ring); err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}

	return rings, rows.Err()
}

// identifier bounds what table names may look like before they are
// spliced into SQL.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dump returns a table's rows as printable cells, for output that has
// to work without knowing the schema.
func (r *Reader) Dump(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (cols []string, rows [][]string, err error) {
	if !identifier.MatchString(tableName) {
		return nil, nil, fmt.Errorf("bad table name %q", tableName)
	}

	query := buildQuery(tableName, params)

	res, err := r.db.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, nil, err
	}
	defer res.Close()

	cols, err = res.Columns()
	if err != nil {
		return nil, nil, err
	}

	for res.Next() {
		cells := make([]any, len(cols))
		for i := range cells {
			cells[i] = new(any)
		}

		if err := res.Scan(cells...); err != nil {
			return nil, nil, err
		}

		row := make([]string, len(cols))
		for i, c := range cells {
			row[i] = renderCell(*c.(*any))
		}
		rows = append(rows, row)
	}

	return cols, rows, res.Err()
}

func renderCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// MapTable registers the struct type a table scans into. Query
// requires a mapping.
func (r *Reader) MapTable(tableName string, sample any) {
	r.typeMap[tableName] = reflect.TypeOf(sample)
}

// Query reads mapped rows plus the unpaged total, for callers that
// paginate.
func (r *Reader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (results []any, totalCount int, err error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("no mapping found for table %s", tableName)
	}

	totalCount, err = r.queryTotalCount(ctx, tableName, params)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		buildQuery(tableName, params), params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err = scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, totalCount, nil
}

func (r *Reader) queryTotalCount(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	query := "SELECT COUNT(*) FROM " + tableName
	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	var count int
	err := r.db.QueryRowContext(ctx, query, params.Args...).Scan(&count)

	return count, err
}

func buildQuery(tableName string, params QueryParams) string {
	query := "SELECT * FROM " + tableName

	if params.Where != "" {
		query += " WHERE " + params.Where
	}
	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
		if params.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	return query
}

// scanRows maps columns to same-named struct fields; columns without a
// field scan into a throwaway.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldMap := make(map[string]int)
	for i := 0; i < structType.NumField(); i++ {
		fieldMap[structType.Field(i).Name] = i
	}

	var results []any

	for rows.Next() {
		structPtr := reflect.New(structType)
		structVal := structPtr.Elem()

		targets := make([]any, len(columns))
		for i, col := range columns {
			if idx, ok := fieldMap[col]; ok {
				targets[i] = structVal.Field(idx).Addr().Interface()
			} else {
				var discard any
				targets[i] = &discard
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, structPtr.Interface())
	}

	return results, rows.Err()
}
