package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Params are the numeric strategy parameters from the config file.
type Params map[string]float64

// Get returns the named parameter or def when it is absent.
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Bool treats any non-zero value as true.
func (p Params) Bool(name string) bool {
	return p[name] != 0
}

type Constructor func(params Params) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a strategy constructor available by name. Registering the
// same name twice panics.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = c
}

// Load builds the named strategy.
func Load(name string, params Params) (Strategy, error) {
	registryMu.RLock()
	c, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, Names())
	}
	s, err := c(params)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", name, err)
	}
	return s, nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
