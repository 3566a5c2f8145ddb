package amp

import (
	"fmt"
	"sort"
	"sync"
)

// Info describes a registered driver.
type Info struct {
	// Name identifies the driver in configuration files.
	Name string

	// Available reports whether this process can reach at least one
	// device of this type. It is side-effect free, requires no instance,
	// and must not disturb device state a later Configure depends on.
	Available func() bool

	// New returns a fresh, Idle driver instance.
	New func() Amplifier
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Info)
)

// Register makes a driver available by name. Driver packages call it from
// init. Registering the same name twice panics.
func Register(info Info) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if info.Name == "" || info.New == nil {
		panic("amp: Register with empty name or nil factory")
	}
	if _, dup := registry[info.Name]; dup {
		panic("amp: duplicate driver " + info.Name)
	}
	registry[info.Name] = info
}

func (i Info) String() string { return i.Name }

// Lookup returns the driver registered under name.
func Lookup(name string) (Info, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	info, ok := registry[name]
	if !ok {
		return Info{}, fmt.Errorf("amp: unknown driver %q", name)
	}
	return info, nil
}

// Drivers returns all registered drivers, sorted by name.
func Drivers() []Info {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Available returns the names of registered drivers whose probe reports a
// reachable device.
func Available() []string {
	var names []string
	for _, info := range Drivers() {
		if info.Available != nil && info.Available() {
			names = append(names, info.Name)
		}
	}
	return names
}
