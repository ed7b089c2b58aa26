package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordInt64(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		"float":  float64(1700000000000),
		"number": json.Number("1700000000001"),
		"int32":  int32(7),
		"string": "42",
		"iso":    ts.Format(time.RFC3339Nano),
		"bogus":  "yesterday",
		"empty":  "",
	}

	cases := map[string]int64{
		"float":  1700000000000,
		"number": 1700000000001,
		"int32":  7,
		"string": 42,
		"iso":    ts.UnixMilli(),
	}
	for field, want := range cases {
		got, ok := rec.Int64(field)
		assert.True(t, ok, field)
		assert.Equal(t, want, got, field)
	}

	for _, field := range []string{"bogus", "empty", "missing"} {
		_, ok := rec.Int64(field)
		assert.False(t, ok, field)
	}
}

func TestRecordMergeKeepsUntouchedFields(t *testing.T) {
	base := Record{"username": "alice", "lastLogin": 1}
	merged := base.Merge(Record{"lastLogin": 2})

	assert.Equal(t, "alice", merged["username"])
	assert.Equal(t, 2, merged["lastLogin"])
	assert.Equal(t, 1, base["lastLogin"], "merge must not mutate the receiver")
}

func TestDecodeJSONUsesNumbers(t *testing.T) {
	rec, err := DecodeJSON([]byte(`{"timestamp": 1712345678901, "text": " hi "}`))
	require.NoError(t, err)
	n, ok := rec.Int64("timestamp")
	require.True(t, ok)
	assert.Equal(t, int64(1712345678901), n)
	assert.Equal(t, "hi", rec.String("text"))
}

func TestRecordBool(t *testing.T) {
	rec := Record{"a": true, "b": "true", "c": "nope", "d": 1}
	assert.True(t, rec.Bool("a"))
	assert.True(t, rec.Bool("b"))
	assert.False(t, rec.Bool("c"))
	assert.False(t, rec.Bool("d"))
}
