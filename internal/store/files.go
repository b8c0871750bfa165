package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
)

// ContractSuffix is the file suffix of contract documents.
const ContractSuffix = ".case.json"

// Files keeps one contract document per file in a directory.
type Files struct {
	dir string
}

// NewFiles returns a store rooted at dir. The directory is created on the
// first Save.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// Dir returns the root directory.
func (f *Files) Dir() string {
	return f.dir
}

// Save writes c to <consumer>-<provider>.case.json, replacing any previous
// version atomically. An unsealed contract is sealed first.
// Implements contract.Writer.
func (f *Files) Save(_ context.Context, c *contract.Contract) error {
	if c.Metadata.Hash == "" {
		if err := c.Seal(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create contract dir: %w", err)
	}
	var buf bytes.Buffer
	if err := contract.Encode(&buf, c); err != nil {
		return err
	}

	path := filepath.Join(f.dir, c.Filename())
	tmp, err := os.CreateTemp(f.dir, ".tmp-*"+ContractSuffix)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Load reads the contract stored under name, a file name relative to the
// root directory.
func (f *Files) Load(_ context.Context, name string) (*contract.Contract, error) {
	if name != filepath.Base(name) {
		return nil, failure.Configuration(nil, "contract name %q must not contain a path", name)
	}
	return ReadFile(filepath.Join(f.dir, name))
}

// List returns the sorted file names of every contract in the directory.
// A missing directory lists nothing.
func (f *Files) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ContractSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// ReadFile reads and validates one contract document.
func ReadFile(path string) (*contract.Contract, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, failure.Configuration(nil, "open contract: %v", err)
	}
	defer fh.Close()
	c, err := contract.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Source reads contracts by name.
type Source interface {
	Load(ctx context.Context, name string) (*contract.Contract, error)
	List(ctx context.Context) ([]string, error)
}

// LoadAll loads every contract src lists, in list order.
func LoadAll(ctx context.Context, src Source) ([]*contract.Contract, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*contract.Contract, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := src.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
