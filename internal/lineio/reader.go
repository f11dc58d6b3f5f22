// Package lineio reads newline-delimited input with a bound on line length. An oversized line is
// discarded up to its newline and reported with ErrTooLong; the reader stays usable.
package lineio

import (
	"bufio"
	"errors"
	"io"
)

var ErrTooLong = errors.New("line too long")

type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader reads lines of at most max bytes, newline included
func NewReader(r io.Reader, max int) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, max), max: max}
}

// Max is the longest accepted line
func (r *Reader) Max() int {
	return r.max
}

// ReadLine returns the next line with its newline. At the end of the stream the final partial line
// is returned along with io.EOF. A line over the limit is skipped and ErrTooLong returned
func (r *Reader) ReadLine() (string, error) {
	line, err := r.r.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return string(line), err
	}

	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.r.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", ErrTooLong
}
