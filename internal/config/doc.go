// Package config provides configuration loading and validation for the captioning service.
// It reads a YAML file over built-in defaults and then applies SOUNDSIGHT_* environment
// overrides before validating every section.
package config
