package indicator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Param is one named numeric indicator parameter.
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Params is an ordered parameter list. Order matters for naming.
type Params []Param

// namingKeys are checked in order when deriving an instance name.
var namingKeys = []string{"period", "length", "lookback", "window"}

func (p Params) Get(name string) (float64, bool) {
	for _, x := range p {
		if x.Name == name {
			return x.Value, true
		}
	}
	return 0, false
}

// Int returns the named parameter as an int. It is only meaningful after validation.
func (p Params) Int(name string) int {
	v, _ := p.Get(name)
	return int(v)
}

// merge overlays p on defaults, keeping defaults order. Unknown or repeated names fail.
func (p Params) merge(defaults Params) (Params, error) {
	out := make(Params, len(defaults))
	copy(out, defaults)
	seen := make(map[string]bool, len(p))
	for _, x := range p {
		if seen[x.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParameters, x.Name)
		}
		seen[x.Name] = true
		found := false
		for i := range out {
			if out[i].Name == x.Name {
				out[i].Value = x.Value
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameters, x.Name)
		}
	}
	return out, nil
}

// fingerprint is a canonical encoding of a merged parameter set.
func (p Params) fingerprint() string {
	parts := make([]string, len(p))
	for i, x := range p {
		parts[i] = x.Name + "=" + formatValue(x.Value)
	}
	return strings.Join(parts, ",")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// instanceName derives the registry key for base with the given overrides:
// no overrides gives base, a period-like parameter gives base_{value}, and otherwise
// every value is joined with "_" in definition order.
func instanceName(base string, overrides Params) string {
	if len(overrides) == 0 {
		return base
	}
	for _, key := range namingKeys {
		if v, ok := overrides.Get(key); ok {
			return base + "_" + formatValue(v)
		}
	}
	parts := make([]string, 0, len(overrides)+1)
	parts = append(parts, base)
	for _, x := range overrides {
		parts = append(parts, formatValue(x.Value))
	}
	return strings.Join(parts, "_")
}

// positiveInt validates that each named parameter is an integer in [1, max].
func positiveInt(p Params, max int, names ...string) error {
	for _, name := range names {
		v, ok := p.Get(name)
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalidParameters, name)
		}
		if math.IsNaN(v) || v != math.Trunc(v) || v < 1 || v > float64(max) {
			return fmt.Errorf("%w: %s=%s must be an integer in [1, %d]", ErrInvalidParameters, name, formatValue(v), max)
		}
	}
	return nil
}
