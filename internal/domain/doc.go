// Package domain contains the task inbox's core entities: the Task record, its
// closed status enumeration and the state machine that moves a task between
// statuses. The transition methods on Task are pure; persisting their effects is
// the job of the store and service layers.
package domain
