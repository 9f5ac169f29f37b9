/*
Package containerizer is the core container-lifecycle manager: a
concurrency-safe registry of per-container state machines driven through a
staged launch pipeline over an external, slow, failure-prone runtime.

Each launch runs its stages strictly in order, re-checking the destroyed
flag after every call into a collaborator:

	Launch ──> Fetch ──> Pull ──> Run ──> Checkpoint ──> Monitor
	             │         │       │          │             │
	             └────destroy check after every stage───────┘
	                           │
	                           v
	               stop+rm, terminate as destroyed

A destroy request may arrive at any stage. It sets the destroyed flag
first, so an in-flight fetch or pull finishes and the pipeline's next
check performs the cleanup; a running container is stopped with a grace
timeout and its monitor finishes the teardown. Either way the container's
termination, a one-shot promise delivered through Wait, resolves exactly
once.

The monitor is one goroutine per running container blocking on the
runtime's wait. On exit it captures the container's logs into the sandbox
directory, removes the stopped container (unless keep_containers is set)
and resolves the termination.

Recover runs once at startup before any launch is accepted. It lists the
runtime's containers carrying the agent's name prefix and reconciles them
against the checkpointed run records: live matches are re-attached with a
monitor, stale records are dropped, and unclaimed prefix-matching
containers are reported as orphans (and torn down when destroy_on_recover
is set). A recovery failure is fatal to the agent.

Update and Usage operate on the container's cgroup through its pid. The
pid is taken from the runtime's run acknowledgment when available and
otherwise discovered through a single inspect, then cached for the
lifetime of the container.
*/
package containerizer
