// Package redistasks provides a Redis-backed tasks.Store for deployments
// where task records must survive process restarts or be shared across
// replicas.
package redistasks
