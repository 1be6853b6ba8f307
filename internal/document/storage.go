package document

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage holds the captured image bytes that documents reference
type Storage interface {
	// Save writes the image and returns the reference to store on the document
	Save(filename string, data []byte) (string, error)

	// Get reads an image by reference
	Get(ref string) ([]byte, error)

	// Delete removes an image by reference
	Delete(ref string) error
}

// LocalStorage keeps images as files in a single directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the directory if needed and returns a LocalStorage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// resolve confines a reference to the storage directory
func (l *LocalStorage) resolve(ref string) (string, error) {
	name := filepath.Base(filepath.Clean(ref))
	if name == "." || name == string(filepath.Separator) || name != ref {
		return "", fmt.Errorf("invalid image reference: %q", ref)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save writes an image; the reference is the bare file name
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get reads an image
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an image
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
