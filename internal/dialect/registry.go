package dialect

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route binds one chat channel to a dialect and its downstream settings.
type Route struct {
	ChannelID   int64  `mapstructure:"channel_id" yaml:"channel_id"`
	Name        string `mapstructure:"name" yaml:"name"`
	Dialect     string `mapstructure:"dialect" yaml:"dialect"`
	Domain      string `mapstructure:"domain" yaml:"domain"`
	Destination string `mapstructure:"destination" yaml:"destination"`
	Execute     bool   `mapstructure:"execute" yaml:"execute"`
}

// Binding is a resolved route.
type Binding struct {
	Route   Route
	Dialect *Dialect
}

// Registry is the read-only channel table built at startup.
type Registry struct {
	bindings map[int64]Binding
}

// NewRegistry validates routes against the built-in catalog.
func NewRegistry(routes []Route) (*Registry, error) {
	bindings := make(map[int64]Binding, len(routes))
	for _, route := range routes {
		if route.ChannelID == 0 {
			return nil, fmt.Errorf("route %q: channel_id is required", route.Name)
		}
		if _, dup := bindings[route.ChannelID]; dup {
			return nil, fmt.Errorf("channel %d routed more than once", route.ChannelID)
		}
		d, ok := Lookup(route.Dialect)
		if !ok {
			return nil, fmt.Errorf("channel %d: unknown dialect %q (known: %s)", route.ChannelID, route.Dialect, strings.Join(Names(), ", "))
		}
		route.Dialect = d.Name()
		route.Domain = strings.ToLower(strings.TrimSpace(route.Domain))
		bindings[route.ChannelID] = Binding{Route: route, Dialect: d}
	}
	return &Registry{bindings: bindings}, nil
}

// Resolve looks up the channel. Unknown channels are not an error.
func (r *Registry) Resolve(channelID int64) (Binding, bool) {
	if r == nil {
		return Binding{}, false
	}
	b, ok := r.bindings[channelID]
	return b, ok
}

// Routes returns every configured route ordered by channel id.
func (r *Registry) Routes() []Route {
	if r == nil {
		return nil
	}
	out := make([]Route, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b.Route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Len reports the number of routed channels.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bindings)
}

type routesFile struct {
	Channels []Route `yaml:"channels"`
}

// LoadRoutesFile reads a YAML document with a top-level channels list.
func LoadRoutesFile(path string) ([]Route, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	var doc routesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse routing file %s: %w", path, err)
	}
	if len(doc.Channels) == 0 {
		return nil, errors.New("routing file defines no channels")
	}
	return doc.Channels, nil
}
