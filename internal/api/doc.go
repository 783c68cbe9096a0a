// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It adapts the inbox service to a JSON API used by
// producers that ingest tasks and by workers that claim and report them.
package api
