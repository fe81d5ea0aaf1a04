// Package auth defines the core domain types shared by the provider
// registry, the validation engine, and the orchestrator: credentials,
// sessions, the security context, capabilities, and the result envelope
// returned by every public operation.
package auth
