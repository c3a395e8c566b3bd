package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix = "data:"
	// DoneMarker is the payload of the terminal frame.
	DoneMarker = "[DONE]"

	defaultMaxLine = 4 << 20
	readChunk      = 32 << 10
)

var ErrLineTooLong = errors.New("stream: line exceeds maximum length")

// Decoder splits raw bytes into "data:" record payloads. Bytes may be fed in
// arbitrarily sized chunks; anything after the last line terminator is kept
// until the next Feed.
type Decoder struct {
	buf     []byte
	done    bool
	maxLine int
}

func NewDecoder() *Decoder {
	return &Decoder{maxLine: defaultMaxLine}
}

// Done reports whether the terminal marker has been seen.
func (d *Decoder) Done() bool { return d.done }

// Feed appends chunk and returns the records completed by it. Once the
// terminal marker is seen, the rest of the input is discarded.
func (d *Decoder) Feed(chunk []byte) ([]string, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	var out []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		rec, ok := parseLine(line)
		if !ok {
			continue
		}
		if rec == DoneMarker {
			d.done = true
			d.buf = nil
			break
		}
		out = append(out, rec)
	}
	if len(d.buf) > d.maxLine {
		d.buf = nil
		return out, ErrLineTooLong
	}
	// Compact so a long stream does not pin its whole history.
	if cap(d.buf) > readChunk && len(d.buf) < cap(d.buf)/4 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return out, nil
}

// parseLine returns the payload of a data line. Comments, keep-alives and
// other SSE fields are dropped.
func parseLine(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return "", false
	}
	payload := line[len(dataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	// A complete line cannot end inside a multi-byte sequence split by chunking;
	// whatever is invalid here is invalid for good.
	s := strings.ToValidUTF8(string(payload), "")
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Reader pulls records lazily from an io.Reader.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending []string
	chunk   []byte
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, dec: NewDecoder(), chunk: make([]byte, readChunk)}
}

// Next returns the next record. It returns io.EOF after the terminal marker or
// when the underlying reader ends; a trailing partial line is discarded.
// Any other error comes from the underlying reader.
func (r *Reader) Next() (string, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return "", r.err
		}
		if r.dec.Done() {
			r.err = io.EOF
			continue
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			recs, ferr := r.dec.Feed(r.chunk[:n])
			r.pending = append(r.pending, recs...)
			if ferr != nil {
				r.err = ferr
			}
		}
		if err != nil && r.err == nil {
			r.err = err
		}
	}
	rec := r.pending[0]
	r.pending = r.pending[1:]
	return rec, nil
}

// Terminated reports whether the stream ended with the terminal marker rather
// than a bare EOF.
func (r *Reader) Terminated() bool { return r.dec.Done() }
