package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel-go/pgtype"
)

func sampleResult() *Result {
	columns := []Column{
		{Name: "id", TypeOID: pgtype.OIDInt8},
		{Name: "name", TypeOID: pgtype.OIDText},
	}
	return &Result{
		Columns: columns,
		Rows: []Row{
			{columns: columns, values: []pgtype.Value{pgtype.Int8(1), pgtype.Text("ada")}},
			{columns: columns, values: []pgtype.Value{pgtype.Int8(2), pgtype.Text("grace")}},
		},
		Tag: "SELECT 2",
	}
}

func TestCommandTagRowsAffected(t *testing.T) {
	assert.Equal(t, int64(5), CommandTag("INSERT 0 5").RowsAffected())
	assert.Equal(t, int64(3), CommandTag("UPDATE 3").RowsAffected())
	assert.Equal(t, int64(0), CommandTag("BEGIN").RowsAffected())
	assert.Equal(t, int64(2), CommandTag("SELECT 2").RowsAffected())
}

func TestRowValueByName(t *testing.T) {
	res := sampleResult()
	v, ok := res.Rows[0].ValueByName("name")
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "ada", s)

	_, ok = res.Rows[0].ValueByName("missing")
	assert.False(t, ok)
}

func TestTupleFactory(t *testing.T) {
	res := sampleResult()
	tuples, err := CollectRows(res, TupleFactory)
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	n, _ := tuples[1][0].Int()
	assert.Equal(t, int64(2), n)
}

func TestRecordFactory(t *testing.T) {
	res := sampleResult()
	records, err := CollectRows(res, RecordFactory)
	require.NoError(t, err)
	require.Len(t, records, 2)
	s, _ := records[0]["name"].Str()
	assert.Equal(t, "ada", s)
}

func TestCustomRowFactory(t *testing.T) {
	type user struct {
		ID   int64
		Name string
	}
	res := sampleResult()
	users, err := CollectRows(res, func(r Row) (user, error) {
		id, _ := r.Value(0).Int()
		name, _ := r.Value(1).Str()
		return user{ID: id, Name: name}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []user{{1, "ada"}, {2, "grace"}}, users)
}
