package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Catalog is a loaded catalog file.
type Catalog struct {
	Text       string
	Records    []Record
	Categories []Category
	Dropped    []DroppedBlock
	Warnings   []FieldWarning
}

// Store reads and writes the catalog file. Writes go through a backup of the
// previous file and a temp file renamed into place, so a failed save leaves
// the original untouched.
type Store struct {
	path      string
	backupDir string
	now       func() time.Time
}

// NewStore creates a store for the catalog at path. Backups are written to
// backupDir, or next to the catalog when backupDir is empty.
func NewStore(path, backupDir string) *Store {
	return &Store{
		path:      path,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the catalog. A missing file yields an empty catalog
// with the default categories.
func (s *Store) Load() (*Catalog, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{Categories: DefaultCategories()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	text := string(data)

	res, err := Extract(text)
	if err != nil {
		return nil, fmt.Errorf("failed to extract games: %w", err)
	}

	categories, err := ExtractCategories(text)
	if err != nil {
		return nil, fmt.Errorf("failed to extract categories: %w", err)
	}
	if len(categories) == 0 {
		categories = DefaultCategories()
	}

	return &Catalog{
		Text:       text,
		Records:    res.Records,
		Categories: categories,
		Dropped:    res.Dropped,
		Warnings:   res.Warnings,
	}, nil
}

// Save writes records into the catalog, preserving cat's surrounding text.
// The previous file, if any, is copied to a timestamped backup first. The
// returned catalog reflects what was written.
func (s *Store) Save(cat *Catalog, records []Record) (*Catalog, error) {
	categories := cat.Categories
	if len(categories) == 0 {
		categories = DefaultCategories()
	}

	text, err := Serialize(cat.Text, records, categories)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize catalog: %w", err)
	}

	if _, err := s.backup(); err != nil {
		return nil, err
	}

	if err := s.writeAtomic([]byte(text)); err != nil {
		return nil, err
	}

	return &Catalog{
		Text:       text,
		Records:    records,
		Categories: CountCategories(records, categories),
	}, nil
}

// backup copies the current catalog file to <name>.backup.<unix>. It
// returns the backup path, or "" when there was nothing to back up.
func (s *Store) backup() (string, error) {
	src, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open catalog for backup: %w", err)
	}
	defer src.Close()

	dir := s.backupDir
	if dir == "" {
		dir = filepath.Dir(s.path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := filepath.Join(dir, fmt.Sprintf("%s.backup.%d", filepath.Base(s.path), s.now().Unix()))
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}

	dst, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	return name, nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set catalog permissions: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}

	return nil
}
