// Package server hosts the HTTP side of packsmith: the shared download client
// used by the content cache, and the Fiber application that exposes a local
// cache read-only so other builds can list it under Mirrors.
package server
