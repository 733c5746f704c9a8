package strategy

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SymbolBindings names the symbols a strategy instance operates on.
// Signal is the symbol indicators are computed on; Bull and Defense are
// the trading vehicles; Vix is the optional volatility-filter index
// symbol (stored with its $ prefix).
type SymbolBindings struct {
	Signal  string
	Bull    string
	Defense string
	Vix     string
}

// ParamKind is the declared type of a strategy parameter
type ParamKind string

const (
	ParamInt     ParamKind = "int"
	ParamFloat   ParamKind = "float"
	ParamString  ParamKind = "string"
	ParamBool    ParamKind = "bool"
	ParamDecimal ParamKind = "decimal"
)

// ParamSpec describes one strategy parameter
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Default  interface{}
	Required bool
}

// Factory builds a strategy instance from validated parameters and
// symbol bindings.
type Factory func(params map[string]interface{}, symbols SymbolBindings) (Strategy, error)

// Descriptor registers a strategy by name with its typed parameter
// surface. Strategies are constructed only through descriptors; there is
// no discovery by reflection.
type Descriptor struct {
	Name        string
	Version     string
	Params      []ParamSpec
	RequiresVix bool
	New         Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Descriptor)
)

// Register adds a strategy descriptor to the registry. It panics on a
// duplicate name, mirroring database/sql driver registration.
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d.Name == "" || d.New == nil {
		panic("strategy: Register called with incomplete descriptor")
	}
	if _, dup := registry[d.Name]; dup {
		panic("strategy: Register called twice for " + d.Name)
	}
	registry[d.Name] = d
}

// Lookup returns the descriptor registered under name
func Lookup(name string) (Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// Names returns the sorted names of all registered strategies
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

// BuildParams resolves the final parameter map for this descriptor:
// spec defaults, then STRATEGY_<NAME>_<VERSION>_<PARAM> environment
// overrides, then explicit overrides; every value is validated against
// the declared kind and unknown parameter names are rejected.
func (d Descriptor) BuildParams(overrides map[string]interface{}) (map[string]interface{}, error) {
	specs := make(map[string]ParamSpec, len(d.Params))
	params := make(map[string]interface{}, len(d.Params))

	for _, spec := range d.Params {
		specs[spec.Name] = spec
		if spec.Default != nil {
			params[spec.Name] = spec.Default
		}
	}

	for _, spec := range d.Params {
		raw, ok := os.LookupEnv(d.envVar(spec.Name))
		if !ok {
			continue
		}
		val, err := castParam(spec, raw)
		if err != nil {
			return nil, fmt.Errorf("env override %s: %w", d.envVar(spec.Name), err)
		}
		params[spec.Name] = val
	}

	for name, val := range overrides {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("strategy %s: unknown parameter %q", d.Name, name)
		}
		val, err := coerceParam(spec, val)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", d.Name, err)
		}
		params[name] = val
	}

	for _, spec := range d.Params {
		if spec.Required {
			if _, ok := params[spec.Name]; !ok {
				return nil, fmt.Errorf("strategy %s: required parameter %q not set", d.Name, spec.Name)
			}
		}
	}

	return params, nil
}

func (d Descriptor) envVar(param string) string {
	upper := func(s string) string {
		return strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(s))
	}
	return fmt.Sprintf("STRATEGY_%s_%s_%s", upper(d.Name), upper(d.Version), upper(param))
}

// castParam parses a string (environment) value per the declared kind
func castParam(spec ParamSpec, raw string) (interface{}, error) {
	switch spec.Kind {
	case ParamInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not an int", spec.Name, raw)
		}
		return v, nil
	case ParamFloat, ParamDecimal:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not a number", spec.Name, raw)
		}
		return v, nil
	case ParamBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not a bool", spec.Name, raw)
		}
		return v, nil
	case ParamString:
		return raw, nil
	default:
		return nil, fmt.Errorf("parameter %s: unknown kind %q", spec.Name, spec.Kind)
	}
}

// coerceParam validates a typed (YAML / caller supplied) value per kind
func coerceParam(spec ParamSpec, val interface{}) (interface{}, error) {
	switch spec.Kind {
	case ParamInt:
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		}
		return nil, fmt.Errorf("parameter %s: %v is not an int", spec.Name, val)
	case ParamFloat, ParamDecimal:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("parameter %s: %v is not a number", spec.Name, val)
	case ParamBool:
		if v, ok := val.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("parameter %s: %v is not a bool", spec.Name, val)
	case ParamString:
		if v, ok := val.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("parameter %s: %v is not a string", spec.Name, val)
	default:
		return nil, fmt.Errorf("parameter %s: unknown kind %q", spec.Name, spec.Kind)
	}
}
