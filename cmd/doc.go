// Package cmd implements the command-line interface of the dMux session
// runtime. It provides a hierarchical command structure for running the mock
// endpoint and for talking to an endpoint through a session.
//
// The package is organized into several subpackages:
//
//   - config: Commands to create config files from presets, validate and show them
//   - session: The call command (send requests) and the bench command (benchmark suites)
//   - serve: Command for starting and configuring the mock endpoint
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// The binary is built from cmd/dmux. See dmux -help for a list of all commands.
package cmd
