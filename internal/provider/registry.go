package provider

import (
	"fmt"
	"log/slog"
	"sync"
)

// Factory constructs a provider. Used by Load for providers that are
// built on demand rather than handed over pre-instantiated.
type Factory func(logger *slog.Logger) (Provider, error)

// Spec describes one provider to load: either an already-instantiated
// Value or a New factory. Ref is the load reference, used as the
// registration key when the provider declares no name of its own.
type Spec struct {
	Ref   string
	Value Provider
	New   Factory
}

// entry caches a provider together with its capability record,
// resolved once at registration time.
type entry struct {
	provider   Provider
	handlers   map[string]HandlerFunc
	setup      SetupHook
	connect    ConnectHook
	disconnect DisconnectHook
	stop       StopHook
}

// Registry loads and indexes providers by name.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	order  []string
	byName map[string]*entry
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]*entry),
	}
}

// Load resolves one provider spec and registers the result. A factory
// failure (or panic) is logged and that provider skipped; loading is
// never fatal to the registry.
func (r *Registry) Load(spec Spec) {
	p := spec.Value
	if p == nil && spec.New != nil {
		var err error
		p, err = r.construct(spec)
		if err != nil {
			r.logger.Warn("provider load failed, skipping",
				"ref", spec.Ref,
				"error", err,
			)
			return
		}
	}
	if p == nil {
		r.logger.Warn("provider spec has neither value nor factory, skipping",
			"ref", spec.Ref,
		)
		return
	}

	key := p.Name()
	if key == "" {
		key = spec.Ref
	}
	if key == "" {
		r.logger.Warn("provider has no name and spec has no ref, skipping")
		return
	}

	r.register(key, p)
}

// Register adds an already-instantiated provider under its own name.
func (r *Registry) Register(p Provider) {
	if p == nil || p.Name() == "" {
		r.logger.Warn("refusing to register unnamed provider")
		return
	}
	r.register(p.Name(), p)
}

func (r *Registry) construct(spec Spec) (p Provider, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("factory panic: %v", rec)
		}
	}()
	return spec.New(r.logger.With("provider", spec.Ref))
}

func (r *Registry) register(key string, p Provider) {
	e := &entry{provider: p}
	if h, ok := p.(MessageHandler); ok {
		e.handlers = h.Handlers()
	}
	if s, ok := p.(SetupHook); ok {
		e.setup = s
	}
	if c, ok := p.(ConnectHook); ok {
		e.connect = c
	}
	if d, ok := p.(DisconnectHook); ok {
		e.disconnect = d
	}
	if s, ok := p.(StopHook); ok {
		e.stop = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Last registration wins; the earlier entry keeps its fan-out slot.
	if _, exists := r.byName[key]; exists {
		r.logger.Debug("provider re-registered, replacing", "name", key)
	} else {
		r.order = append(r.order, key)
	}
	r.byName[key] = e

	r.logger.Info("provider registered",
		"name", key,
		"version", p.Version(),
		"handlers", len(e.handlers),
	)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Handler resolves a message handler by provider name and local message
// name. The second return is false when either lookup misses.
func (r *Registry) Handler(providerName, msgName string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[providerName]
	if !ok || e.handlers == nil {
		return nil, false
	}
	h, ok := e.handlers[msgName]
	return h, ok
}

// All returns every provider in registration order. Connect and
// disconnect fan-outs see the same order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byName[key].provider)
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Setup runs every provider's setup hook in registration order. One
// provider's failure is logged and does not prevent the others from
// running.
func (r *Registry) Setup(env *Env) {
	for _, e := range r.entries() {
		if e.setup == nil {
			continue
		}
		name := e.provider.Name()
		r.invoke(name, "setup", func() error {
			return e.setup.Setup(env)
		})
	}
}

// FanOutConnect notifies every provider with a connect hook.
func (r *Registry) FanOutConnect(conn Conn, env *Env) {
	for _, e := range r.entries() {
		if e.connect == nil {
			continue
		}
		hook := e.connect
		r.invoke(e.provider.Name(), "connect", func() error {
			return hook.OnConnect(conn, env)
		})
	}
}

// FanOutDisconnect notifies every provider with a disconnect hook.
func (r *Registry) FanOutDisconnect(conn Conn, env *Env) {
	for _, e := range r.entries() {
		if e.disconnect == nil {
			continue
		}
		hook := e.disconnect
		r.invoke(e.provider.Name(), "disconnect", func() error {
			return hook.OnDisconnect(conn, env)
		})
	}
}

// FanOutStop notifies every provider with a stop hook.
func (r *Registry) FanOutStop(reason string, conn Conn, env *Env) {
	for _, e := range r.entries() {
		if e.stop == nil {
			continue
		}
		hook := e.stop
		r.invoke(e.provider.Name(), "stop", func() error {
			return hook.OnStop(reason, conn, env)
		})
	}
}

// entries snapshots the registry in registration order so a fan-out
// pass sees one consistent enumeration.
func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byName[key])
	}
	return out
}

// invoke runs one provider hook, converting errors and panics into log
// lines. Nothing escapes past this boundary.
func (r *Registry) invoke(name, hook string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider hook panicked",
				"provider", name,
				"hook", hook,
				"panic", rec,
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("provider hook failed",
			"provider", name,
			"hook", hook,
			"error", err,
		)
	}
}
