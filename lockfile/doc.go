// Package lockfile coordinates cross-process access to a file through
// advisory flock locking plus an mtime-gated metadata cache, the shared
// substrate used by package list, package mhash and package rhash.
package lockfile
