// Package testutil provides a stub database/sql driver understanding the
// handful of statement shapes the postgres ledger issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StubConn keeps tables as rows of column values and records every statement.
type StubConn struct {
	mu       sync.Mutex
	Execs    []string
	Tables   map[string][]map[string]any
	FailPing bool
	FailExec bool
}

// NewStubDB registers a fresh driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = normalize(query)
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if !strings.HasPrefix(strings.ToUpper(query), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if conflict := parseConflict(query); len(conflict) > 0 {
		var kept []map[string]any
		for _, existing := range c.Tables[table] {
			if !sameKey(existing, row, conflict) {
				kept = append(kept, existing)
			}
		}
		c.Tables[table] = kept
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for SELECT ... FROM t
// [WHERE a = $1 AND b = $2] [ORDER BY c].
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, err := parseSelect(normalize(query))
	if err != nil {
		return nil, err
	}
	var matched []map[string]any
	for _, row := range c.Tables[q.table] {
		ok := true
		for col, idx := range q.where {
			if idx >= len(args) || row[col] != args[idx].Value {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}
	if q.orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return fmt.Sprint(matched[i][q.orderBy]) < fmt.Sprint(matched[j][q.orderBy])
		})
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(q.cols))
		for i, col := range q.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: q.cols, rows: values}, nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string { return strings.Join(strings.Fields(query), " ") }

func sameKey(a, b map[string]any, cols []string) bool {
	for _, col := range cols {
		if a[col] != b[col] {
			return false
		}
	}
	return true
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseConflict(query string) []string {
	up := strings.ToUpper(query)
	idx := strings.Index(up, "ON CONFLICT (")
	if idx == -1 {
		return nil
	}
	rest := query[idx+len("ON CONFLICT ("):]
	end := strings.Index(rest, ")")
	if end == -1 {
		return nil
	}
	return splitColumns(rest[:end])
}

type selectQuery struct {
	table   string
	cols    []string
	where   map[string]int
	orderBy string
}

func parseSelect(query string) (selectQuery, error) {
	lower := strings.ToLower(query)
	if !strings.HasPrefix(lower, "select ") {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	q := selectQuery{cols: splitColumns(query[len("select "):fromIdx]), where: map[string]int{}}
	rest := lower[fromIdx+len(" from "):]
	if i := strings.Index(rest, " order by "); i != -1 {
		q.orderBy = strings.TrimSpace(rest[i+len(" order by "):])
		rest = rest[:i]
	}
	if i := strings.Index(rest, " where "); i != -1 {
		for _, pred := range strings.Split(rest[i+len(" where "):], " and ") {
			parts := strings.SplitN(pred, "=", 2)
			if len(parts) != 2 {
				return selectQuery{}, fmt.Errorf("cannot parse predicate %q", pred)
			}
			n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(parts[1]), "$"))
			if err != nil {
				return selectQuery{}, fmt.Errorf("cannot parse placeholder %q", parts[1])
			}
			q.where[strings.TrimSpace(parts[0])] = n - 1
		}
		rest = rest[:i]
	}
	q.table = strings.TrimSpace(rest)
	if q.table == "" {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	return q, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
