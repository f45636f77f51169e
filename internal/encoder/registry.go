package encoder

import (
	"fmt"
	"strings"
)

// Auto picks avifenc when installed and the WASM encoder otherwise.
const Auto = "auto"

// Registry holds all available encoder backends.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry creates a registry, probing all backends for availability.
func NewRegistry() *Registry {
	r := &Registry{
		encoders: make(map[string]Encoder),
	}

	// Register all backends. Only available ones will be used.
	all := []Encoder{
		&WASMEncoder{},
		&AVIFEncoder{},
	}

	for _, enc := range all {
		r.Register(enc)
	}

	return r
}

// Register adds enc if it is available, replacing a backend of the same name.
func (r *Registry) Register(enc Encoder) {
	if enc.Available() {
		r.encoders[enc.Name()] = enc
	}
}

// Get returns a backend by name, or nil if unavailable.
func (r *Registry) Get(name string) Encoder {
	return r.encoders[strings.ToLower(name)]
}

// Resolve maps a configured backend name to an encoder.
func (r *Registry) Resolve(name string) (Encoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == Auto {
		if enc := r.Get("avifenc"); enc != nil {
			return enc, nil
		}
		name = "wasm"
	}
	enc := r.Get(name)
	if enc == nil {
		return nil, fmt.Errorf("encoder %q unavailable (%s)", name, r.String())
	}
	return enc, nil
}

// Available returns all available backend names.
func (r *Registry) Available() []string {
	var result []string
	// Maintain priority order.
	for _, n := range []string{"avifenc", "wasm"} {
		if _, ok := r.encoders[n]; ok {
			result = append(result, n)
		}
	}
	return result
}

// String returns a summary of available backends.
func (r *Registry) String() string {
	avail := r.Available()
	if len(avail) == 0 {
		return "no encoders available"
	}
	return fmt.Sprintf("encoders: %s", strings.Join(avail, ", "))
}
