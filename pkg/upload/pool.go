package upload

import (
	"context"
	"sync"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/provision"
	"sshpublish/pkg/storage"
)

// pool holds one transport per server key for a single batch. A failed
// dial is remembered so the server's remaining tasks fail without redialing.
type pool struct {
	dialer storage.Dialer
	cache  *provision.DirCache
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	once        sync.Once
	transport   storage.Transport
	provisioner *provision.Provisioner
	err         error
}

func newPool(dialer storage.Dialer, cache *provision.DirCache, l *logger.Logger) *pool {
	return &pool{
		dialer:  dialer,
		cache:   cache,
		logger:  l,
		entries: make(map[string]*poolEntry),
	}
}

func (p *pool) get(ctx context.Context, server *config.ServerConfig) (storage.Transport, *provision.Provisioner, error) {
	key := server.Key()

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		transport, err := p.dialer.Dial(ctx, server)
		if err != nil {
			entry.err = err
			p.logger.Error("failed to connect", err, map[string]any{
				"server": server.Label(),
				"key":    key,
			})
			return
		}
		entry.transport = transport
		entry.provisioner = provision.New(transport, key, p.cache)
		p.logger.Info("connected", map[string]any{
			"server":  server.Label(),
			"key":     key,
			"backend": string(transport.GetBackendType()),
		})
	})

	return entry.transport, entry.provisioner, entry.err
}

// closeAll closes every open transport and returns how many were closed.
func (p *pool) closeAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	closed := 0
	for key, entry := range p.entries {
		if entry.transport == nil {
			continue
		}
		if err := entry.transport.Close(); err != nil {
			p.logger.Warn("failed to close connection", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
		closed++
	}
	p.entries = make(map[string]*poolEntry)
	return closed
}
