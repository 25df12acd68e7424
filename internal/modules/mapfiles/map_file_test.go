package mapfiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	raw := []byte("20000101,NEW,Q\n20190430,OLD,Q\n20501231,NEW,Q\n")

	f, err := Parse("new", raw)
	require.NoError(t, err)

	assert.Equal(t, "NEW", f.Ticker)
	require.Len(t, f.Rows, 3)
	assert.Equal(t, "OLD", f.Rows[1].Ticker)
	assert.Equal(t, "Q", f.Rows[1].Exchange)

	assert.Equal(t, raw, f.Marshal())
}

func TestMarshalWritesUppercaseTickers(t *testing.T) {
	f, err := Parse("new", []byte("20000101,new,Q\n20501231,new,Q\n"))
	require.NoError(t, err)

	assert.Equal(t, "NEW", f.Rows[0].Ticker)
	assert.Equal(t, []byte("20000101,NEW,Q\n20501231,NEW,Q\n"), f.Marshal())
}

func TestParseRejectsMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"missing field", "20000101,new\n"},
		{"bad date", "2000-01-01,new,Q\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("NEW", []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestFilePath(t *testing.T) {
	assert.Equal(t,
		"/data/equity/usa/map_files/meta.csv",
		FilePath("/data", "META"))
}
