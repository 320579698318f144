// Package rhea provides a request-driven execution fabric for declaratively
// described command-line tools.
//
// Rhea exposes a catalog of tool descriptors over MCP. On demand it
// materializes each tool as an isolated worker with a pinned conda
// environment, stages file inputs and outputs through a content-addressed
// object store, renders the tool's templated command into a shell script,
// executes it, and returns structured results.
//
// # Quick Start
//
// Install Rhea:
//
//	go install github.com/rhea-ai/rhea/cmd/rhea@latest
//
// Start the server over stdio (the default transport):
//
//	rhea serve
//
// Or over streamable HTTP:
//
//	rhea serve --transport streamable-http
//
// Configuration is supplied through environment variables (optionally via a
// .env file); see pkg/config for the full set.
//
// # Architecture
//
//	MCP client → session controller → worker scheduler → tool worker
//	                   │                     │                │
//	             semantic index        provider blocks   conda environment
//	                   │                     │                │
//	                qdrant               redis registry   object store (S3)
//
// A find_tools call queries the semantic index and installs session-scoped
// tool bindings; calling a bound tool lazily provisions its worker, stages
// inputs from the object store, renders and runs the command, and registers
// the produced artifacts back into the store.
//
// # Key Packages
//
//   - pkg/toolspec: the read-only tool descriptor model and catalog
//   - pkg/template: the command templater (conditionals, quoting repair)
//   - pkg/worker: per-tool execution, file staging, output discovery
//   - pkg/scheduler: bounded worker pool with pluggable block providers
//   - pkg/session: per-session tool registries and invocation dispatch
//   - pkg/server: MCP transports, REST upload/download sidecar, metrics
package rhea
