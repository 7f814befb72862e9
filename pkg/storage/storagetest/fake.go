// Package storagetest provides in-memory transports for tests.
package storagetest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"sshpublish/pkg/config"
	"sshpublish/pkg/storage"
)

// Fake is an in-memory remote filesystem. Put fails with parent_missing
// when the destination directory was never created, like a real SFTP server.
type Fake struct {
	mu sync.Mutex

	// Fs is read for file content on Put; nil records empty files.
	Fs       afero.Fs
	Implicit bool

	// FailPut, when set, is consulted before every Put with the 1-based
	// attempt number for that remote path.
	FailPut   func(remotePath string, attempt int) error
	FailMkdir func(dir string) error

	dirs     map[string]bool
	files    map[string][]byte
	attempts map[string]int
	mkdirs   []string
	closed   bool
}

func NewFake() *Fake {
	return &Fake{
		dirs:     map[string]bool{"/": true},
		files:    make(map[string][]byte),
		attempts: make(map[string]int),
	}
}

// AddDir marks dir as pre-existing.
func (f *Fake) AddDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path.Clean(dir)] = true
}

// AddFile places a regular file at p.
func (f *Fake) AddFile(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(p)] = data
}

// RemoveDir deletes dir and everything below it, as if another client
// cleaned up the server.
func (f *Fake) RemoveDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = path.Clean(dir)
	prefix := dir + "/"
	for d := range f.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(f.dirs, d)
		}
	}
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			delete(f.files, p)
		}
	}
}

func (f *Fake) File(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path.Clean(p)]
	return data, ok
}

func (f *Fake) HasDir(dir string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path.Clean(dir)]
}

// Mkdirs returns every successful Mkdir call in order.
func (f *Fake) Mkdirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mkdirs...)
}

func (f *Fake) Attempts(remotePath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[path.Clean(remotePath)]
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) GetBackendType() storage.BackendType {
	return storage.BackendTypeSFTP
}

func (f *Fake) ImplicitDirectories() bool {
	return f.Implicit
}

func (f *Fake) Stat(ctx context.Context, remotePath string) (*storage.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := path.Clean(remotePath)
	if f.dirs[p] {
		return &storage.FileMetadata{Exists: true, IsDir: true}, nil
	}
	if data, ok := f.files[p]; ok {
		return &storage.FileMetadata{Exists: true, Size: int64(len(data))}, nil
	}
	return &storage.FileMetadata{Exists: false}, nil
}

func (f *Fake) Mkdir(ctx context.Context, remotePath string) error {
	if f.FailMkdir != nil {
		if err := f.FailMkdir(remotePath); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p := path.Clean(remotePath)
	if f.dirs[p] {
		return &storage.StorageError{Type: storage.ErrorTypeInternal, Message: fmt.Sprintf("%s already exists", p)}
	}
	if !f.dirs[path.Dir(p)] {
		return &storage.StorageError{Type: storage.ErrorTypeParentMissing, Message: fmt.Sprintf("parent of %s missing", p)}
	}
	f.dirs[p] = true
	f.mkdirs = append(f.mkdirs, p)
	return nil
}

func (f *Fake) Put(ctx context.Context, localPath, remotePath string, onProgress storage.ProgressFunc) error {
	p := path.Clean(remotePath)

	f.mu.Lock()
	f.attempts[p]++
	attempt := f.attempts[p]
	f.mu.Unlock()

	if f.FailPut != nil {
		if err := f.FailPut(p, attempt); err != nil {
			return err
		}
	}

	var data []byte
	if f.Fs != nil {
		var err error
		data, err = afero.ReadFile(f.Fs, localPath)
		if err != nil {
			return &storage.StorageError{Type: storage.ErrorTypeLocalNotFound, Message: localPath, Cause: err}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Implicit && !f.dirs[path.Dir(p)] {
		return &storage.StorageError{Type: storage.ErrorTypeParentMissing, Message: fmt.Sprintf("parent of %s missing", p)}
	}
	f.files[p] = data
	if onProgress != nil {
		onProgress(int64(len(data)))
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Dialer hands out Fakes keyed by server key.
type Dialer struct {
	mu         sync.Mutex
	transports map[string]*Fake
	errs       map[string]error
	dials      map[string]int
}

func NewDialer() *Dialer {
	return &Dialer{
		transports: make(map[string]*Fake),
		errs:       make(map[string]error),
		dials:      make(map[string]int),
	}
}

// Register returns the Fake served for server, creating it on first use.
func (d *Dialer) Register(server *config.ServerConfig) *Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.transports[server.Key()]
	if !ok {
		f = NewFake()
		d.transports[server.Key()] = f
	}
	return f
}

// FailDial makes every Dial for server return err.
func (d *Dialer) FailDial(server *config.ServerConfig, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[server.Key()] = err
}

func (d *Dialer) Dials(server *config.ServerConfig) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server.Key()]
}

func (d *Dialer) Dial(ctx context.Context, server *config.ServerConfig) (storage.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[server.Key()]++
	if err := d.errs[server.Key()]; err != nil {
		return nil, err
	}
	f, ok := d.transports[server.Key()]
	if !ok {
		f = NewFake()
		d.transports[server.Key()] = f
	}
	return f, nil
}
