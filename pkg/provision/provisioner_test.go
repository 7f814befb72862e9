package provision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshpublish/pkg/storage"
	"sshpublish/pkg/storage/storagetest"
)

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/site1", "/site1/js", "/site1/js/lib"}, Ancestors("/site1/js/lib/a.js"))
	assert.Equal(t, []string{"/site1"}, Ancestors("/site1/index.html"))
	assert.Empty(t, Ancestors("/index.html"))
	assert.Equal(t, []string{"site", "site/js"}, Ancestors("site/js/a.js"))
}

func TestEnsureDirCreatesMissingChain(t *testing.T) {
	fake := storagetest.NewFake()
	fake.AddDir("/site1")

	p := New(fake, "web1", nil)
	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/lib/a.js"))

	assert.Equal(t, []string{"/site1/js", "/site1/js/lib"}, fake.Mkdirs())
	assert.True(t, fake.HasDir("/site1/js/lib"))
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	fake := storagetest.NewFake()
	cache, err := NewDirCache(100)
	require.NoError(t, err)
	defer cache.Close()

	p := New(fake, "web1", cache)
	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/a.js"))
	require.Len(t, fake.Mkdirs(), 2)

	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/b.js"))
	assert.Len(t, fake.Mkdirs(), 2)

	// a fresh provisioner without the cache still does no mkdir
	require.NoError(t, New(fake, "web1", nil).EnsureDir(context.Background(), "/site1/js/c.js"))
	assert.Len(t, fake.Mkdirs(), 2)
}

func TestForgetRecreatesRemovedDirectory(t *testing.T) {
	fake := storagetest.NewFake()
	cache, err := NewDirCache(100)
	require.NoError(t, err)
	defer cache.Close()

	p := New(fake, "web1", cache)
	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/a.js"))
	fake.RemoveDir("/site1")

	// cached, so the removal goes unnoticed
	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/a.js"))
	assert.False(t, fake.HasDir("/site1/js"))

	p.Forget("/site1/js/a.js")
	require.NoError(t, p.EnsureDir(context.Background(), "/site1/js/a.js"))
	assert.True(t, fake.HasDir("/site1/js"))
	assert.Equal(t, []string{"/site1", "/site1/js", "/site1", "/site1/js"}, fake.Mkdirs())
}

func TestEnsureDirConcurrent(t *testing.T) {
	fake := storagetest.NewFake()
	p := New(fake, "web1", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.EnsureDir(context.Background(), "/site1/deep/nested/dir/file.js")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, fake.Mkdirs(), 4)
}

func TestEnsureDirMkdirRaceCountsAsSuccess(t *testing.T) {
	fake := storagetest.NewFake()
	fake.AddDir("/site1")
	// someone else creates the directory right before our mkdir
	fake.FailMkdir = func(dir string) error {
		fake.AddDir(dir)
		return errors.New("sftp: failure")
	}

	require.NoError(t, New(fake, "web1", nil).EnsureDir(context.Background(), "/site1/js/a.js"))
}

func TestEnsureDirErrors(t *testing.T) {
	t.Run("file in the way", func(t *testing.T) {
		fake := storagetest.NewFake()
		fake.AddDir("/site1")
		fake.AddFile("/site1/js", []byte("x"))

		err := New(fake, "web1", nil).EnsureDir(context.Background(), "/site1/js/a.js")
		assert.Equal(t, storage.ErrorTypeNotDirectory, storage.TypeOf(err))
	})

	t.Run("mkdir denied", func(t *testing.T) {
		fake := storagetest.NewFake()
		fake.FailMkdir = func(dir string) error {
			return &storage.StorageError{Type: storage.ErrorTypeAccessDenied, Message: "denied"}
		}

		err := New(fake, "web1", nil).EnsureDir(context.Background(), "/site1/a.js")
		require.Error(t, err)
		assert.Equal(t, storage.ErrorTypeAccessDenied, storage.TypeOf(err))
		assert.Contains(t, err.Error(), "/site1")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := New(storagetest.NewFake(), "web1", nil).EnsureDir(ctx, "/site1/a.js")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEnsureDirSkipsImplicitDirectories(t *testing.T) {
	fake := storagetest.NewFake()
	fake.Implicit = true

	require.NoError(t, New(fake, "bucket", nil).EnsureDir(context.Background(), "/www/js/a.js"))
	assert.Empty(t, fake.Mkdirs())
}
