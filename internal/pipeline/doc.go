// Package pipeline runs the finalize steps applied to a file after it was
// downloaded and moved to its final path.
//
// Steps run in order and each receives the same *Finalized value. A step
// failure never undoes the download; with WithContinueOnError the remaining
// steps still run.
package pipeline
