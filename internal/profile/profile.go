package profile

import (
	"fmt"
	"sort"

	"github.com/AnyUserName/avifbatch/internal/encoder"
)

// Profile is a named set of encoding defaults. Command-line flags override
// individual fields.
type Profile struct {
	Name        string
	Quality     int // 0-100
	Speed       int // 0-10
	Subsampling encoder.Subsampling
	Lossless    bool
}

// Default is used when no profile is requested.
const Default = "default"

// Built-in profiles.
var profiles = map[string]Profile{
	"default": {
		Name:        "default",
		Quality:     70,
		Speed:       6,
		Subsampling: encoder.Subsample420,
	},
	"photo": {
		Name:        "photo",
		Quality:     80,
		Speed:       4,
		Subsampling: encoder.Subsample420,
	},
	"web": {
		Name:        "web",
		Quality:     60,
		Speed:       8,
		Subsampling: encoder.Subsample420,
	},
	"archive": {
		Name:        "archive",
		Quality:     100,
		Speed:       4,
		Subsampling: encoder.Subsample444,
		Lossless:    true,
	},
}

// Get returns a profile by name. An empty name selects Default.
func Get(name string) (Profile, error) {
	if name == "" {
		name = Default
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %v)", name, Names())
	}
	return p, nil
}

// Names lists the built-in profiles alphabetically.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Options converts the profile into encoder options.
func (p Profile) Options() encoder.Options {
	return encoder.Options{
		Quality:     p.Quality,
		Speed:       p.Speed,
		Subsampling: p.Subsampling,
		Lossless:    p.Lossless,
		BitDepth:    8,
	}
}
