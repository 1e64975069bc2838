package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Persister reads and writes the serialized form of one document.
type Persister interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Quarantiner is implemented by persisters that can move an unreadable
// stored document aside, so the next save does not replace it.
type Quarantiner interface {
	Quarantine(suffix string) (string, error)
}

// FilePersister keeps a document in a single file, passing it through codec.
type FilePersister struct {
	path  string
	codec Codec
}

// NewFilePersister creates a persister for path. A nil codec stores plain
// JSON.
func NewFilePersister(path string, codec Codec) *FilePersister {
	if codec == nil {
		codec = PlainCodec{}
	}
	return &FilePersister{path: path, codec: codec}
}

// Path returns the file the document lives in.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads and decodes the file.
func (p *FilePersister) Load() ([]byte, error) {
	stored, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	plain, err := p.codec.Decode(stored)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	return plain, nil
}

// Save encodes data and replaces the file atomically, so a crash mid-write
// leaves the previous version in place.
func (p *FilePersister) Save(data []byte) error {
	stored, err := p.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.path, err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(stored); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace %s: %w", p.path, err)
	}
	return nil
}

// Quarantine renames the file to <path>.corrupt-<suffix> and returns the new
// name.
func (p *FilePersister) Quarantine(suffix string) (string, error) {
	dst := p.path + ".corrupt-" + suffix
	if err := os.Rename(p.path, dst); err != nil {
		return "", fmt.Errorf("move aside %s: %w", p.path, err)
	}
	return dst, nil
}
