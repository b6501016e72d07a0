// Package config loads the meshwire runtime configuration from a TOML file
// and maps it onto the collaborators the daemon wires together: the keystore
// location, the channel secret gating announces, the favorite peer list and
// the power mode. Missing fields fall back to defaults so a minimal config
// file stays minimal.
package config
