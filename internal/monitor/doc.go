// Package monitor is the polling engine: one independent loop per monitored
// account, a rotating credential pool, a response classifier and the
// persistence/resume model. Engines are per client; Manager owns them all.
//
// A loop runs Idle(nextCheckAt) -> Checking -> Idle(nextCheckAt') until the
// account is removed or recovers (stored Suspended, classified Active). On
// recovery the notifier is called once and the record is deleted.
package monitor
