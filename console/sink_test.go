package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_RecordsWrites(t *testing.T) {
	sink := NewMemory(80, 25)
	sink.WriteString("hello")
	sink.WriteChar(' ')
	sink.WriteStringColor("world", NewColor(0x0F, 0x00))

	require.Equal(t, []string{"hello", " ", "world"}, sink.Lines)
	require.Equal(t, len("hello world"), sink.Cursor())
}

func TestMemory_ClearResetsState(t *testing.T) {
	sink := NewMemory(80, 25)
	sink.WriteString("anything")
	sink.Clear()

	require.Empty(t, sink.Lines)
	require.Zero(t, sink.Cursor())
}

func TestText_TracksLinearCursor(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewText(buf, 80, 25)

	sink.WriteString("abc")
	sink.WriteChar('d')
	require.Equal(t, 4, sink.Cursor())
	require.Equal(t, "abcd", buf.String())

	w, h := sink.Dimensions()
	require.Equal(t, 80, w)
	require.Equal(t, 25, h)
}
