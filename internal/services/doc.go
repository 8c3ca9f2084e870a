// Package services provides the per-session service registry for mazemind.
//
// A Registry owns the shared embedding, language model, retrieval and
// reflection scheduling services for one session. Provider state (active
// provider, availability, cache) lives in these values rather than in
// globals, so two sessions never observe each other's failovers. Use
// NewFromConfig to build a registry from configuration, or NewRegistry
// to assemble one from prebuilt services in tests.
package services
