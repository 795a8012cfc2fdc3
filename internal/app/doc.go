// Package app wires the fetch layer together: source definitions, the fetch
// service with its per-source state controllers, persistence, and the
// lifecycle manager that runs the background refresher.
package app
