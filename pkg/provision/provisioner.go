// Package provision makes sure the remote directory chain of a destination
// exists before a file is transferred into it.
package provision

import (
	"context"
	"fmt"
	"path"

	"sshpublish/pkg/lock"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/storage"
)

// Provisioner creates missing ancestors on one transport. It is safe for
// concurrent use; tasks racing on the same directory are serialized and an
// already-existing directory is never an error.
type Provisioner struct {
	transport storage.Transport
	scope     string
	locks     *lock.Striped
	cache     *DirCache
}

// New returns a Provisioner for transport. scope namespaces entries in the
// shared cache, usually the server key. cache may be nil.
func New(transport storage.Transport, scope string, cache *DirCache) *Provisioner {
	return &Provisioner{
		transport: transport,
		scope:     scope,
		locks:     lock.NewStriped(256),
		cache:     cache,
	}
}

// Ancestors lists the directories that must exist for remoteFilePath,
// shallowest first. The root is never included.
func Ancestors(remoteFilePath string) []string {
	dir := path.Dir(path.Clean(remoteFilePath))
	var dirs []string
	for dir != "/" && dir != "." && dir != "" {
		dirs = append(dirs, dir)
		dir = path.Dir(dir)
	}
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs
}

// EnsureDir creates every missing ancestor of remoteFilePath in order.
func (p *Provisioner) EnsureDir(ctx context.Context, remoteFilePath string) error {
	if implicit, ok := p.transport.(storage.ImplicitDirectories); ok && implicit.ImplicitDirectories() {
		return nil
	}

	for _, dir := range Ancestors(remoteFilePath) {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := p.scope + ":" + dir
		if p.cache.Has(key) {
			continue
		}
		if err := p.locks.With(dir, func() error { return p.ensureOne(ctx, dir) }); err != nil {
			return err
		}
		p.cache.Add(key)
	}
	return nil
}

// Forget drops the cached ancestors of remoteFilePath so the next EnsureDir
// checks them on the server again. Used when a directory vanished remotely.
func (p *Provisioner) Forget(remoteFilePath string) {
	for _, dir := range Ancestors(remoteFilePath) {
		p.cache.Del(p.scope + ":" + dir)
	}
}

func (p *Provisioner) ensureOne(ctx context.Context, dir string) error {
	exists, err := p.isDir(ctx, dir)
	if err != nil || exists {
		return err
	}

	mkdirErr := p.transport.Mkdir(ctx, dir)
	if mkdirErr == nil {
		logger.Debug("created remote directory", map[string]any{
			"scope": p.scope,
			"dir":   dir,
		})
		return nil
	}

	// another writer may have created it between our stat and mkdir
	exists, err = p.isDir(ctx, dir)
	if err == nil && exists {
		return nil
	}
	return fmt.Errorf("create remote directory %s: %w", dir, mkdirErr)
}

func (p *Provisioner) isDir(ctx context.Context, dir string) (bool, error) {
	meta, err := p.transport.Stat(ctx, dir)
	if err != nil {
		return false, err
	}
	if !meta.Exists {
		return false, nil
	}
	if !meta.IsDir {
		return false, &storage.StorageError{
			Type:    storage.ErrorTypeNotDirectory,
			Message: fmt.Sprintf("%s exists and is not a directory", dir),
		}
	}
	return true, nil
}
