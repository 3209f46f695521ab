// Package config loads framejobs settings from a TOML file, a .env file and
// FRAMEJOBS_* environment variables, in that order of precedence (later wins).
package config
