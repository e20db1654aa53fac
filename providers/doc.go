// Package providers contains the provider adapter registry, the shared HTTP
// outcome classifier, and the adapter base used by built-in providers.
package providers
