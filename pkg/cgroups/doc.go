/*
Package cgroups provides synchronous access to a process's cgroup knobs.

The Accessor resolves a pid's cgroup directories through /proc/<pid>/cgroup
and the v1 hierarchy root, then reads and writes cpu.shares,
memory.soft_limit_in_bytes and the cpuacct/memory accounting files. It knows
nothing about containers; the containerizer supplies the pid it cached or
discovered through inspect.
*/
package cgroups
