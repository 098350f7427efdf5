// Package mlwatch collects experiment metrics emitted by a completed
// machine-learning test run, aggregates them according to a declarative
// policy, persists them to a historical store, and raises alert policies
// when new values deviate statistically from history.
//
// The package is invoked once per completed run, not as a long-running
// service: a Handler is wired with its collaborators (event source, metric
// store, alert backend) and Run drives the whole pipeline synchronously for
// one decoded trigger payload.
package mlwatch
