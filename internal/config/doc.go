// Package config provides configuration structures and utilities for dropfetch.
// It defines the run options populated from CLI flags, the YAML host
// configuration file, and the conversion of that file into a host.Registry.
package config
