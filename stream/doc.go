// Package stream delivers ordered progress events from an agent run to a
// single consumer and carries user steering back into the run.
//
// A Stream is a single-producer single-consumer channel of Events plus a
// multi-writer pending-steering queue the loop drains at turn boundaries.
// The Registry tracks the active streams of one process by run ID. FileQueue
// and Poller bridge steering across worker processes through a shared
// directory, landing in the same inject path as local steering.
package stream
