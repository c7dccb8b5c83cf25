package transport

import (
	"fmt"
	"sync"

	"github.com/bytedance/gg/gmap"
)

// Options carries everything a transport needs to build one session client.
type Options struct {
	// Name is the stable session name used in logs, metrics and assignment.
	Name string

	AppID   int
	AppHash string

	// SessionFile points at the stored authorization for this session.
	SessionFile string

	// Proxy is an optional socks5:// URL all connections for this
	// session go through. Empty means a direct connection.
	Proxy string

	// RequestsPerSecond paces API calls on this session. Zero means the
	// transport default.
	RequestsPerSecond int

	// PartSizeKB is the transfer chunk size for downloads and uploads.
	PartSizeKB int

	// UploadThreads is the parallelism for large uploads.
	UploadThreads int
}

// Factory builds a Client for one session.
type Factory func(opts Options) (Client, error)

var defaultRegistry = NewRegistry()

var (
	Register  = defaultRegistry.Register
	New       = defaultRegistry.New
	Supported = defaultRegistry.Supported
)

type Registry struct {
	factories map[Type]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Type]Factory, 2),
	}
}

func (r *Registry) Register(t Type, f Factory) error {
	if f == nil {
		return fmt.Errorf("transport factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[t]; ok {
		return fmt.Errorf("transport %q already registered", t)
	}
	r.factories[t] = f
	return nil
}

func (r *Registry) New(t Type, opts Options) (Client, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported transport type: %s", t)
	}
	return f(opts)
}

func (r *Registry) Supported() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gmap.Keys(r.factories)
}
