package filelog

import (
	"bytes"
	"io"
)

const chunkSize = 64 * 1024

// lineSource yields lines newest first.
type lineSource interface {
	next() ([]byte, error)
	close() error
}

// reverseReader reads a file backwards in chunks.
type reverseReader struct {
	r       io.ReaderAt
	closer  io.Closer
	pos     int64
	partial []byte
	lines   [][]byte
}

func newReverseReader(r io.ReaderAt, size int64, closer io.Closer) *reverseReader {
	return &reverseReader{r: r, pos: size, closer: closer}
}

func (rr *reverseReader) next() ([]byte, error) {
	for {
		if n := len(rr.lines); n > 0 {
			line := rr.lines[n-1]
			rr.lines = rr.lines[:n-1]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return line, nil
		}
		if rr.pos == 0 {
			line := rr.partial
			rr.partial = nil
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			return line, nil
		}

		n := int64(chunkSize)
		if n > rr.pos {
			n = rr.pos
		}
		rr.pos -= n
		data := make([]byte, n, n+int64(len(rr.partial)))
		if _, err := rr.r.ReadAt(data, rr.pos); err != nil && err != io.EOF {
			return nil, err
		}
		data = append(data, rr.partial...)

		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			rr.partial = data
			continue
		}
		rr.partial = data[:idx]
		rr.lines = bytes.Split(data[idx+1:], []byte{'\n'})
	}
}

func (rr *reverseReader) close() error {
	if rr.closer == nil {
		return nil
	}
	err := rr.closer.Close()
	rr.closer = nil
	return err
}

// memoryLines walks decoded archive content from the end.
type memoryLines struct {
	lines [][]byte
}

func newMemoryLines(data []byte) *memoryLines {
	return &memoryLines{lines: bytes.Split(data, []byte{'\n'})}
}

func (m *memoryLines) next() ([]byte, error) {
	for len(m.lines) > 0 {
		n := len(m.lines)
		line := m.lines[n-1]
		m.lines = m.lines[:n-1]
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
	}
	return nil, io.EOF
}

func (m *memoryLines) close() error {
	m.lines = nil
	return nil
}
