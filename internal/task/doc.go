// Package task runs inbox tasks in-process.
//
// A Runner owns a pool of workers that poll an inbox through the inbox service,
// execute each claimed task with the Handler registered for its type and report
// the outcome back as a completion, a failure or a suspension. A Sweeper returns
// expired claims to the pool on a cron schedule and refreshes the stats gauges.
package task
