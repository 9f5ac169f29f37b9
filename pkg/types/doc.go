/*
Package types defines the shared data model for Stevedore.

It holds the ContainerID, launch specifications (tasks, executors, container
settings, artifact URIs), the termination outcome delivered through Wait, the
runtime's container view, and the run records persisted for crash recovery.
Types here carry no behavior beyond trivial accessors; all lifecycle logic
lives in pkg/containerizer.
*/
package types
