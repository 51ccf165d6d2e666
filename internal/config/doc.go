// Package config loads, normalizes and validates stillreel configuration.
//
// Settings come from built-in defaults, an optional TOML file and STILLREEL_*
// environment overrides, in that order. The package also builds the
// structured logger every component receives.
package config
