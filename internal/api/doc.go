// Package api exposes the operator HTTP surface: run control, status,
// health probes, the server-sent event stream and the embedded web UI.
//
// Errors are returned as JSON objects of the form {"error": "..."} with the
// status codes documented on each handler.
package api
