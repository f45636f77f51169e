// Package sysprio adjusts the scheduling priority of the converter process
// so long batches can run politely in the background or, with privileges,
// ahead of other work.
package sysprio

import "fmt"

// Level is a coarse priority request.
type Level string

const (
	Default Level = "default"
	Min     Level = "min"
	Max     Level = "max"
)

// Nice values used for each level.
const (
	niceMin = 19
	niceMax = -20
)

// Parse validates a level name. Empty means Default.
func Parse(s string) (Level, error) {
	switch Level(s) {
	case "", Default:
		return Default, nil
	case Min, Max:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown priority %q (want default, min or max)", s)
}

// Apply sets the process priority for level. Default leaves it untouched.
// Raising priority usually needs privileges; the error is returned so the
// caller can log it and continue at the current priority.
func Apply(level Level) error {
	switch level {
	case "", Default:
		return nil
	case Min:
		return setNice(niceMin)
	case Max:
		return setNice(niceMax)
	}
	return fmt.Errorf("unknown priority %q", level)
}
