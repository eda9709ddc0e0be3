// Package diskstore is the on-disk payload cache: one flat directory of
// fingerprint-named files, serviced by age and cumulative size.
package diskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/msflight/wmsclient/internal/core/observability"
)

// IOError wraps cache filesystem failures. Callers log it and carry on;
// a broken cache never fails a fetch.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

type Store struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration
	log      zerolog.Logger

	now func() time.Time // for tests
}

// New opens (creating if missing) the cache directory. maxBytes or maxAge
// of zero disables the respective bound.
func New(dir string, maxBytes int64, maxAge time.Duration, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		log:      log.With().Str("component", "diskstore").Logger(),
		now:      time.Now,
	}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Lookup returns the cached payload for filename if present and readable.
// A hit re-touches the file's modification time so servicing approximates
// least-recently-used ordering.
func (s *Store) Lookup(filename string) ([]byte, bool) {
	path := filepath.Join(s.dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Str("file", filename).Err(err).Msg("cache read failed")
			observability.IncCacheError()
		} else {
			observability.IncCacheMiss()
		}
		return nil, false
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		s.log.Debug().Str("file", filename).Err(err).Msg("cache touch failed")
	}
	observability.IncCacheHit()
	return data, true
}

// Has reports whether filename is present. Unlike Lookup it only stats
// the file: no read, no mtime touch, no hit/miss accounting.
func (s *Store) Has(filename string) bool {
	_, err := os.Stat(filepath.Join(s.dir, filename))
	return err == nil
}

// Store writes a payload under filename. The write goes to a temp file in
// the same directory followed by a rename, so readers never observe a
// partial file.
func (s *Store) Store(filename string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filename+".tmp*")
	if err != nil {
		observability.IncCacheError()
		return &IOError{Op: "create", Path: filename, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		observability.IncCacheError()
		return &IOError{Op: "write", Path: filename, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		observability.IncCacheError()
		return &IOError{Op: "close", Path: filename, Err: err}
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, filename)); err != nil {
		os.Remove(tmpName)
		observability.IncCacheError()
		return &IOError{Op: "rename", Path: filename, Err: err}
	}
	return nil
}

type cacheFile struct {
	name    string
	size    int64
	modTime time.Time
}

// Service enumerates the cache and deletes files older than the age bound
// or, oldest first, files past the cumulative size bound. Run on startup
// and on shutdown.
func (s *Store) Service() error {
	files, err := s.list()
	if err != nil {
		return err
	}
	// newest first, so the cumulative size walk keeps recent files
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	now := s.now()
	var kept int64
	var removed, freed int64
	for _, f := range files {
		expired := s.maxAge > 0 && now.Sub(f.modTime) > s.maxAge
		overflow := s.maxBytes > 0 && kept+f.size > s.maxBytes
		if !expired && !overflow {
			kept += f.size
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.log.Warn().Str("file", f.name).Err(err).Msg("cache eviction failed")
			continue
		}
		removed++
		freed += f.size
	}
	if removed > 0 {
		observability.AddEvictedBytes(freed)
		s.log.Info().Int64("files", removed).Int64("bytes", freed).
			Msg("cache serviced")
	}
	return nil
}

// Clear removes every cache file. The caller is responsible for user
// confirmation.
func (s *Store) Clear() error {
	files, err := s.list()
	if err != nil {
		return err
	}
	var freed int64
	for _, f := range files {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			return &IOError{Op: "remove", Path: f.name, Err: err}
		}
		freed += f.size
	}
	observability.AddEvictedBytes(freed)
	s.log.Info().Int("files", len(files)).Msg("cache cleared")
	return nil
}

// Size returns the cumulative byte size of all cache files.
func (s *Store) Size() (int64, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func (s *Store) list() ([]cacheFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &IOError{Op: "readdir", Path: s.dir, Err: err}
	}
	files := make([]cacheFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// raced with a concurrent eviction
			continue
		}
		files = append(files, cacheFile{
			name:    e.Name(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}
