package flushmanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Table is the collaborator whose pages the buffer manager caches. StorageLoc
// must be stable: it names the backing file and keys the table's pages.
type Table interface {
	Name() string
	StorageLoc() string
}

type table struct {
	name string
	loc  string
}

// NewTable returns a Table stored at loc.
func NewTable(name, loc string) Table {
	return &table{name: name, loc: loc}
}

func (t *table) Name() string       { return t.name }
func (t *table) StorageLoc() string { return t.loc }

// Registry keeps one open file per table storage location, plus the shared
// temporary file for anonymous pages. It is not safe for concurrent use; the
// buffer manager lock guards it. The *os.File values it returns are safe to
// use outside that lock with ReadPage/WritePage.
type Registry struct {
	files    map[string]*os.File
	temp     *os.File
	tempPath string
	logger   *zap.Logger
}

// NewRegistry creates (truncating) the temporary file at tempPath.
func NewRegistry(tempPath string, logger *zap.Logger) (*Registry, error) {
	if dir := filepath.Dir(tempPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating temp dir %s: %v", ErrIO, dir, err)
		}
	}
	temp, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening temp file %s: %v", ErrIO, tempPath, err)
	}
	return &Registry{
		files:    make(map[string]*os.File),
		temp:     temp,
		tempPath: tempPath,
		logger:   logger,
	}, nil
}

// Open returns the file backing loc, opening or creating it on first use.
func (r *Registry) Open(loc string) (*os.File, error) {
	if f, ok := r.files[loc]; ok {
		return f, nil
	}
	f, err := os.OpenFile(loc, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening table file %s: %v", ErrIO, loc, err)
	}
	r.files[loc] = f
	r.logger.Debug("opened table file", zap.String("path", loc))
	return f, nil
}

// File returns an already opened file; anonymous pages map to the temp file.
func (r *Registry) File(loc string, anon bool) *os.File {
	if anon {
		return r.temp
	}
	return r.files[loc]
}

func (r *Registry) TempPath() string { return r.tempPath }

// Len counts open files, the temp file included.
func (r *Registry) Len() int { return len(r.files) + 1 }

// Close closes every file and deletes the temporary file.
func (r *Registry) Close() error {
	var errs []error
	for loc, f := range r.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: closing %s: %v", ErrIO, loc, err))
		}
	}
	r.files = map[string]*os.File{}
	if err := r.temp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: closing temp file: %v", ErrIO, err))
	}
	if err := os.Remove(r.tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("%w: removing temp file %s: %v", ErrIO, r.tempPath, err))
	}
	return errors.Join(errs...)
}
