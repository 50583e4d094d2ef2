// Package jobfile decodes the optional HCL job file that describes a run.
// Every attribute is optional; the command line overrides whatever the file
// sets. Expressions may call env("NAME") to read secrets from the
// environment instead of writing them into the file.
package jobfile
