// Package diagnostics reports on the host and the running process.
//
// SystemInfo and RunChecks back the doctor command. ResourceMonitor samples
// the process while the HTTP server is up and logs when goroutines, heap or
// open descriptors cross their thresholds, which is how leaked analysis runs
// usually show up first.
package diagnostics
