package fs

import (
	"os"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// RelayFS wraps the filesystem operations used by the relay.
type RelayFS interface {
	DirExists(path string) (bool, error)
	FileExists(path string) (bool, error)
	ExecutableExists(path string) (bool, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data string) error
	MkdirAll(path string) error
	MkdirTemp(dir, pattern string) (string, error)
	Remove(name string) error
	RemoveAll(path string) error
}

type fsImpl struct{}

// New creates a new RelayFS.
func New() RelayFS {
	return fsImpl{}
}

func (fsImpl) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (fsImpl) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ExecutableExists reports whether path is an existing regular file with an execute bit set.
func (fsImpl) ExecutableExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir() && info.Mode().Perm()&0111 != 0, nil
}

func (fsImpl) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (fsImpl) WriteFile(name string, data string) error {
	return os.WriteFile(name, []byte(data), 0644)
}

func (fsImpl) MkdirAll(path string) error { return os.MkdirAll(path, os.ModePerm) }

func (fsImpl) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (fsImpl) Remove(name string) error { return os.Remove(name) }

func (fsImpl) RemoveAll(path string) error { return os.RemoveAll(path) }
