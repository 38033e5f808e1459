package module

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigError marks a malformed or incomplete configuration entry. It is
// always recoverable: the entry is logged and skipped.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// Descriptor is a module entry known from configuration but not yet
// instantiated. It is immutable once stored in the defined tree.
type Descriptor struct {
	Category     Category
	ModuleName   string
	ClassName    string
	InstanceName string
	Config       map[string]any
	// Connect maps the instance's in-connector names to
	// "otherInstance.outConnector" references.
	Connect map[string]string
}

// ConnectNames returns the keys of Connect in a reproducible order. The
// config parser does not preserve document order, so sorted order is the
// stable choice.
func (d *Descriptor) ConnectNames() []string {
	names := make([]string, 0, len(d.Connect))
	for name := range d.Connect {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseDescriptor builds a Descriptor from one configuration entry. The
// entry must carry a "module" field of the form "moduleName.ClassName"; a
// missing or malformed field yields a *ConfigError and the entry is to be
// skipped, never treated as fatal.
func ParseDescriptor(category Category, instanceName string, entry map[string]any) (*Descriptor, error) {
	raw, ok := entry["module"]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("%s.%s: no module specified", category, instanceName)}
	}
	path, ok := raw.(string)
	if !ok || path == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("%s.%s: module is not a string", category, instanceName)}
	}

	moduleName, className := path, path
	if i := strings.LastIndex(path, "."); i > 0 && i < len(path)-1 {
		moduleName, className = path[:i], path[i+1:]
	}

	d := &Descriptor{
		Category:     category,
		ModuleName:   moduleName,
		ClassName:    className,
		InstanceName: instanceName,
		Config:       entry,
		Connect:      map[string]string{},
	}

	if rawConnect, ok := entry["connect"]; ok {
		connect, ok := rawConnect.(map[string]any)
		if !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("%s.%s: connect is not a map", category, instanceName)}
		}
		for inName, rawTarget := range connect {
			target, ok := rawTarget.(string)
			if !ok {
				return nil, &ConfigError{Reason: fmt.Sprintf(
					"%s.%s: connect target for %q is not a string", category, instanceName, inName)}
			}
			if !strings.Contains(target, ".") {
				return nil, &ConfigError{Reason: fmt.Sprintf(
					"%s.%s: connect target %q for %q has no \"instance.connector\" form",
					category, instanceName, target, inName)}
			}
			d.Connect[inName] = target
		}
	}
	return d, nil
}
