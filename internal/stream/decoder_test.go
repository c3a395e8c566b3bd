package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SplitTerminalMarker(t *testing.T) {
	d := NewDecoder()

	recs, err := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\nda"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ContentDelta{Text: "Hi"}, Classify(recs[0]))
	assert.False(t, d.Done())

	recs, err = d.Feed([]byte("ta: [DONE]\n\n"))
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.True(t, d.Done())
}

func TestDecoder_DropsNonDataLines(t *testing.T) {
	d := NewDecoder()
	recs, err := d.Feed([]byte(": keep-alive\n\nevent: ping\nid: 4\ndata: {\"a\":1}\r\n\r\ndata:\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, recs)
}

func TestDecoder_IgnoresInputAfterDone(t *testing.T) {
	d := NewDecoder()
	recs, err := d.Feed([]byte("data: one\ndata: [DONE]\ndata: two\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, recs)

	recs, err = d.Feed([]byte("data: three\n"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDecoder_MultiByteRuneSplitAcrossChunks(t *testing.T) {
	raw := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"héllo – 世界\"}}]}\n\n")
	d := NewDecoder()
	var got []string
	for i := range raw {
		recs, err := d.Feed(raw[i : i+1])
		require.NoError(t, err)
		got = append(got, recs...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, ContentDelta{Text: "héllo – 世界"}, Classify(got[0]))
	assert.NotContains(t, got[0], "�")
}

func TestDecoder_InvalidBytesNeverBecomeReplacementChars(t *testing.T) {
	d := NewDecoder()
	recs, err := d.Feed([]byte("data: ab\xffcd\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd"}, recs)
}

func TestDecoder_LineTooLong(t *testing.T) {
	d := NewDecoder()
	d.maxLine = 8
	_, err := d.Feed([]byte("data: 0123456789"))
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReader_LazyRecords(t *testing.T) {
	body := "data: a\n\n: ping\n\ndata: b\n\ndata: [DONE]\n\ndata: c\n\n"
	r := NewReader(iotest.OneByteReader(strings.NewReader(body)))

	var got []string
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.True(t, r.Terminated())
}

func TestReader_EOFWithoutMarkerDropsPartialLine(t *testing.T) {
	r := NewReader(strings.NewReader("data: a\n\ndata: trunc"))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", rec)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, r.Terminated())
}

func TestReader_SurfacesTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReader(io.MultiReader(strings.NewReader("data: a\n"), iotest.ErrReader(boom)))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", rec)

	_, err = r.Next()
	assert.ErrorIs(t, err, boom)
}
