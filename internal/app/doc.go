// Package app contains the application logic around a mosaic run. It defines
// the App struct, its configuration and the run lifecycle (status server,
// ledger, report, publishing), decoupled from the CLI entrypoint.
package app
