// Package download executes downloads of resolved targets: it resumes
// partial files, verifies size and identity, and moves completed files
// atomically into place.
//
// At most one writer exists per destination path. A second task heading
// for the same path waits for the first and then adopts its result.
package download
