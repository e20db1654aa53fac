// Package core contains canonical keyprobe domain types, contracts, error
// envelopes, and configuration for credential validation runs.
package core
