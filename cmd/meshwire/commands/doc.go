// Package commands defines the meshwire CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - keygen       Create the device identity on first run
//   - fingerprint  Print the local peer ID and public key
//   - demo         Run an in-process two-node mesh exchange
//
// # Implementation
//
// The root command resolves the data directory, loads the TOML configuration
// when present and applies the logging setup before any subcommand runs, so
// handlers share one validated configuration.
package commands
