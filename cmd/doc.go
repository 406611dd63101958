// Package cmd implements the command-line interface of sKV. Every command
// opens the store, optionally loads a save-slot, runs and closes the store
// again, which flushes all pending changes.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, del, has, all, perf)
//   - slot: Commands for save-slot maintenance (list, copy, dump)
//   - script: Commands for running JavaScript against the store
//   - stats: Store, database and metrics information
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See skv -help for a list of all commands.
package cmd
