/*
Package runtime wraps the container runtime behind a capability interface.

The Client interface covers the seven operations the lifecycle manager needs:
pull, run, stop, remove, inspect, list, wait, plus log capture. Two production
backends implement it:

  - DockerClient speaks to the Docker daemon API. It is the default backend;
    containers are matched by name and a managed label, pids come from
    inspect, and termination is observed through the daemon's wait endpoint.
  - ContainerdClient speaks to containerd within a dedicated namespace,
    mapping container names onto containerd container IDs and observing
    termination through task wait.

FakeClient is the in-memory implementation used by unit tests; its hooks can
block or fail individual calls to exercise the pipeline's cancellation
behavior mid-flight.

Every Client call is safe for concurrent use across different containers and
honors context cancellation. Calls may take seconds; nothing in this package
caches or retries, that is the caller's concern.
*/
package runtime
