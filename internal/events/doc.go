// Package events carries upstream work items into the inbox.
//
// Producers publish an IngestEvent through an EventEmitter; the inbox service
// registers an EventHandler that turns each event into a task, upserting by
// SourceID when the event has one.
package events
