// Package config loads feedmux configuration from JSON files with a
// FEEDMUX_* environment overlay. Precedence: defaults < file < env.
package config
