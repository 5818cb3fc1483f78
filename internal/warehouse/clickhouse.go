// Package warehouse wraps the columnar analytics backend behind a small
// cursor-style interface so tools and the schema profile never depend on a
// concrete driver.
package warehouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Querier is the backend query surface the tools consume. ListColumns for a
// missing table returns an error; callers decide whether that is fatal.
type Querier interface {
	Query(ctx context.Context, sql string) ([]map[string]any, error)
	ListColumns(ctx context.Context, table string) ([]string, error)
	Close() error
}

// ClickHouseQuerier implements Querier against a ClickHouse deployment.
type ClickHouseQuerier struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Open parses the DSN, connects, and pings the backend.
func Open(dsn string, logger *zap.Logger) (*ClickHouseQuerier, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: parse dsn: %w", err)
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("warehouse: open: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("warehouse: ping: %w", err)
	}

	return &ClickHouseQuerier{conn: conn, logger: logger}, nil
}

// Query executes sql and materializes every row as a column-name-keyed map.
func (q *ClickHouseQuerier) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	rows, err := q.conn.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("warehouse: query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	columns := rows.Columns()
	types := rows.ColumnTypes()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		for i, ct := range types {
			values[i] = newScanTarget(ct)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("warehouse: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = deref(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: rows: %w", err)
	}
	return out, nil
}

// ListColumns runs DESCRIBE TABLE and returns the column names.
func (q *ClickHouseQuerier) ListColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := q.conn.Query(ctx, "DESCRIBE TABLE "+table)
	if err != nil {
		return nil, fmt.Errorf("warehouse: describe %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	var columns []string
	for rows.Next() {
		var name, typ, defaultType, defaultExpr, comment, codecExpr, ttlExpr string
		if err := rows.Scan(&name, &typ, &defaultType, &defaultExpr, &comment, &codecExpr, &ttlExpr); err != nil {
			return nil, fmt.Errorf("warehouse: describe scan: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: describe rows: %w", err)
	}
	return columns, nil
}

// Close releases the backend connection. Called once at process shutdown.
func (q *ClickHouseQuerier) Close() error {
	return q.conn.Close()
}

// newScanTarget allocates a scan destination for a column. The driver
// dispatches ScanRow on the destination's concrete pointer type, so the
// target must be a pointer to the column's native Go type.
func newScanTarget(ct driver.ColumnType) any {
	return reflect.New(ct.ScanType()).Interface()
}

// deref unwraps the typed pointer allocated by newScanTarget.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}
