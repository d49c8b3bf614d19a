// Package config loads cache-manager configuration from YAML files and
// maps it onto manager options and logging setup. The core itself reads
// no environment variables; everything arrives through the file or the
// options structs directly.
package config
