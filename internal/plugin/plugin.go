// Package plugin extends a run through the event bus and the recorder.
package plugin

import (
	"fmt"
	"log/slog"
	"sort"

	"conductor/internal/config"
	"conductor/internal/event"
	"conductor/internal/recorder"
)

// Host exposes the parts of a runner a plugin may hook into.
type Host interface {
	Recorder() *recorder.Recorder
	Bus() *event.Bus
	Logger() *slog.Logger
}

// Plugin installs itself on host. cfg is the plugin's configuration block.
type Plugin func(host Host, cfg map[string]any) error

// Registry maps plugin names to implementations.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry returns a registry holding the built-in plugins.
func NewRegistry() *Registry {
	return &Registry{plugins: map[string]Plugin{
		"retryFailedStep": RetryFailedStep,
		"throttle":        Throttle,
		"stepTimeout":     StepTimeout,
	}}
}

// Register adds or replaces a plugin.
func (r *Registry) Register(name string, p Plugin) {
	r.plugins[name] = p
}

// Names lists registered plugins, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load installs every enabled plugin of cfg in name order.
func (r *Registry) Load(host Host, cfg map[string]config.PluginArgs) error {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		args := cfg[name]
		if !args.Enabled() {
			continue
		}
		p, ok := r.plugins[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		if err := p(host, args); err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
		host.Logger().Debug("plugin loaded", slog.String("plugin", name))
	}
	return nil
}

func decode(cfg map[string]any, out any) error {
	return config.PluginArgs(cfg).Decode(out)
}
