package client

import (
	"strconv"
	"strings"

	"github.com/kestreldb/kestrel-go/pgtype"
)

// Column is result-column metadata, captured once from the statement's
// describe step and shared by every row.
type Column struct {
	Name    string
	TypeOID uint32
}

// Row is one result row. Values are positionally aligned with the shared
// column metadata.
type Row struct {
	columns []Column
	values  []pgtype.Value
}

// Columns returns the shared column metadata.
func (r Row) Columns() []Column { return r.columns }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Value returns the value at column index i.
func (r Row) Value(i int) pgtype.Value { return r.values[i] }

// ValueByName returns the value of the named column.
func (r Row) ValueByName(name string) (pgtype.Value, bool) {
	for i, col := range r.columns {
		if col.Name == name {
			return r.values[i], true
		}
	}
	return pgtype.Value{}, false
}

// CommandTag is the server's completion tag for a statement.
type CommandTag string

// RowsAffected returns the row count from tags like "INSERT 0 5" or
// "UPDATE 3"; zero for tags that carry none.
func (ct CommandTag) RowsAffected() int64 {
	words := strings.Split(string(ct), " ")
	n, _ := strconv.ParseInt(words[len(words)-1], 10, 64)
	return n
}

// Result is the materialized outcome of one statement.
type Result struct {
	Columns []Column
	Rows    []Row
	Tag     CommandTag
}

// RowFactory transforms a raw row into a caller-chosen shape.
type RowFactory[T any] func(Row) (T, error)

// TupleFactory yields the row's values in column order.
func TupleFactory(r Row) ([]pgtype.Value, error) {
	out := make([]pgtype.Value, len(r.values))
	copy(out, r.values)
	return out, nil
}

// RecordFactory yields the row as a column-name keyed map.
func RecordFactory(r Row) (map[string]pgtype.Value, error) {
	out := make(map[string]pgtype.Value, len(r.values))
	for i, col := range r.columns {
		out[col.Name] = r.values[i]
	}
	return out, nil
}

// CollectRows applies a factory to every row of a result.
func CollectRows[T any](res *Result, factory RowFactory[T]) ([]T, error) {
	out := make([]T, 0, len(res.Rows))
	for _, row := range res.Rows {
		v, err := factory(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
