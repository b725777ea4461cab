// Package plugin holds the explicit plugin registry used by the dispatch
// loop. Plugins are registered by name at startup, optionally filtered by
// a YAML manifest, and always iterated in registration order.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"stampy/internal/domain"
	"stampy/internal/metrics"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

// Env is what every plugin factory receives: the outbound side of the
// channel (text, stickers and photos) and the bot's logger.
type Env struct {
	Outbound domain.Outbound
	Logger   *slog.Logger
}

// Factory builds a plugin instance.
type Factory func(Env) domain.Plugin

// Descriptor is what discovery reports about a registered plugin.
type Descriptor struct {
	Name    string
	Enabled bool
}

type entry struct {
	name    string
	factory Factory
	enabled bool
}

// Registry maps plugin names to statically known implementations.
type Registry struct {
	entries []entry
	loaded  []domain.Plugin
	env     Env
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry returns an empty registry whose factories are handed env.
func NewRegistry(env Env, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New(nil)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Registry{env: env, logger: env.Logger, metrics: m}
}

// Register adds a plugin after the ones already registered. Registering a
// name twice replaces the factory but keeps the original position.
func (r *Registry) Register(name string, factory Factory) {
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries[i].factory = factory
			return
		}
	}
	r.entries = append(r.entries, entry{name: name, factory: factory, enabled: true})
	r.logger.Debug("registered plugin", "name", name)
}

// Apply enables or disables registered plugins according to the manifest.
// Plugins the manifest does not mention keep their current state.
func (r *Registry) Apply(m *Manifest) {
	if m == nil {
		return
	}
	for _, p := range m.Plugins {
		found := false
		for i := range r.entries {
			if r.entries[i].name == p.Name {
				r.entries[i].enabled = p.IsEnabled()
				found = true
				break
			}
		}
		if !found {
			r.logger.Warn("manifest lists unknown plugin", "name", p.Name)
		}
	}
}

// Discover lists every registered plugin in registration order.
func (r *Registry) Discover() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = Descriptor{Name: e.name, Enabled: e.enabled}
	}
	return out
}

// Load builds the plugin described by d.
func (r *Registry) Load(d Descriptor) (domain.Plugin, error) {
	for _, e := range r.entries {
		if e.name == d.Name {
			return e.factory(r.env), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, d.Name)
}

// InitAll loads and initializes every enabled plugin in discovery order.
// A plugin whose Init fails or panics is logged and left out of RunAll.
func (r *Registry) InitAll(ctx context.Context) {
	r.loaded = r.loaded[:0]
	for _, d := range r.Discover() {
		if !d.Enabled {
			r.logger.Info("plugin disabled, skipping", "name", d.Name)
			continue
		}
		p, err := r.Load(d)
		if err != nil {
			r.logger.Error("cannot load plugin", "name", d.Name, "err", err)
			continue
		}
		r.logger.Debug("initializing plugin", "name", d.Name)
		if err := r.guard(d.Name, "init", func() error { return p.Init(ctx) }); err != nil {
			continue
		}
		r.loaded = append(r.loaded, p)
	}
	r.logger.Info("plugins loaded", "names", r.Names())
}

// RunAll hands msg to every initialized plugin in order. A failing plugin
// does not stop the ones after it.
func (r *Registry) RunAll(ctx context.Context, msg domain.CanonicalMessage) {
	for _, p := range r.loaded {
		r.logger.Debug("processing plugin", "name", p.Name(), "update_id", msg.UpdateID)
		_ = r.guard(p.Name(), "run", func() error { return p.Run(ctx, msg) })
	}
}

// Names returns the initialized plugins in run order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.loaded))
	for i, p := range r.loaded {
		names[i] = p.Name()
	}
	return names
}

func (r *Registry) guard(name, phase string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s %s panic: %v", name, phase, rec)
			r.logger.Error("plugin panic", "name", name, "phase", phase, "panic", rec, "stack", string(debug.Stack()))
		}
		if err != nil {
			r.metrics.PluginFailures.WithLabelValues(name).Inc()
		}
	}()
	if err = fn(); err != nil {
		r.logger.Error("plugin failed", "name", name, "phase", phase, "err", err)
	}
	return err
}
