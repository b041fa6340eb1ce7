// Package storage maps camera file locators to files on local storage.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cjeanneret/InstantPrint/internal/debug"
)

// ErrStorageResolution means a locator cannot be mapped to a readable file.
var ErrStorageResolution = errors.New("storage resolution failed")

// Resolver follows the DCF layout: <root>/<directory>/<file>, where the
// directory and file are the last two segments of the locator path.
// "http://cam/files/abc/100RICOH/R0011607.JPG" and "/dcim/100RICOH/R0011607.JPG"
// both resolve to <root>/100RICOH/R0011607.JPG.
type Resolver struct {
	Root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Path returns the local path for locator without touching the disk.
func (r *Resolver) Path(locator string) (string, error) {
	if r.Root == "" {
		return "", fmt.Errorf("%w: no storage root configured", ErrStorageResolution)
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: bad locator %q: %w", ErrStorageResolution, locator, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: locator %q has no directory/file part", ErrStorageResolution, locator)
	}
	dir, file := parts[len(parts)-2], parts[len(parts)-1]
	for _, seg := range []string{dir, file} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `\`) {
			return "", fmt.Errorf("%w: invalid path segment %q in %q", ErrStorageResolution, seg, locator)
		}
	}
	return filepath.Join(r.Root, dir, file), nil
}

// Open resolves locator and opens the file for reading.
func (r *Resolver) Open(locator string) (*os.File, error) {
	path, err := r.Path(locator)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageResolution, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrStorageResolution, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageResolution, err)
	}
	debug.Verbose("Storage: %s -> %s (%d bytes)", locator, path, info.Size())
	return f, nil
}
