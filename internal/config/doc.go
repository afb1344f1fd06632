// Package config loads the medtrack configuration file (JSON or YAML),
// validates it and republishes it on change.
package config
