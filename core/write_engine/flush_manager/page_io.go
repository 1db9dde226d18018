package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadPage fills buf with the page at pos of f. Pages past the end of the file
// read as zeros.
func ReadPage(f *os.File, pos int64, buf []byte) error {
	offset := pos * int64(len(buf))
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading page %d of %s: %v", ErrIO, pos, f.Name(), err)
	}
	if n < len(buf) {
		clear(buf[n:])
	}
	return nil
}

// WritePage writes buf as the page at pos of f.
func WritePage(f *os.File, pos int64, buf []byte) error {
	offset := pos * int64(len(buf))
	if _, err := f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %d of %s: %v", ErrIO, pos, f.Name(), err)
	}
	return nil
}
