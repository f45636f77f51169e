// Package config loads avifbatch settings from TOML.
//
// Precedence, lowest first: built-in defaults, the config file
// (~/.config/avifbatch/config.toml, $AVIFBATCH_CONFIG or --config), then
// command-line flags that were explicitly set.
package config
