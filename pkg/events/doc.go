/*
Package events provides an in-memory broker for container lifecycle events.

The broker fans published events out to all subscribers over buffered
channels. Publishing never blocks the lifecycle pipeline: a subscriber whose
buffer is full simply misses the event. The containerizer publishes a
transition event for every launch, failure, recovery, destroy and termination
so that the agent can stream status changes without polling the registry.
*/
package events
