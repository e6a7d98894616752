// Package cmd implements the command-line interface of wBridge. It provides a
// hierarchical command structure for running the catalog responder and for
// talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - catalog: Commands for catalog operations (create, find, delete, publish, etc.) and a perf tool
//   - msg: Commands for raw messaging on the message server (pub, sub, req)
//   - serve: Commands for starting and configuring the catalog responder
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See wbridge -help for a list of all commands.
package cmd
