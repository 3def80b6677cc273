// Package intake accepts candidate files, validates them against constraints
// and drives accepted files through an upload lifecycle.
//
// The package never moves bytes over a network. Callers supply the upload
// functions; the engine owns ordering, status, progress and preview references.
// It can be used by the HTTP server, the command line tool or tests without
// modification.
//
// # Intake
//
// Files arrive through one of three adapters, all of which feed the same
// validation pipeline:
//
//   - [Selector]: a file picker; the selection is read then cleared.
//   - [DropZone]: drag and drop, with an active flag for hover feedback.
//   - [RemoteImporter]: a reference to an already hosted file, added as success.
//
// [Validate] is pure. It checks size before type for each candidate, then
// applies the multiplicity and count limits to the survivors:
//
//	res := intake.Validate(len(existing), c, batch)
//	for _, r := range res.Rejections {
//	    fmt.Println(r.FileName, r.Reason)
//	}
//
// # Lifecycle
//
// Descriptors move pending -> uploading -> success | error. Success and error
// are terminal. An upload run marks every accepted descriptor uploading with
// progress 0 before its strategy starts, so callers never observe a queued
// state during a run.
//
// # Strategies
//
//   - [BatchStrategy] hands the whole accepted batch to one function.
//   - [PerFileStrategy] uploads one file at a time in insertion order, with a
//     simulated progress ticker per file. By default the first failure aborts
//     the rest of the batch.
//
// Concurrent runs across engines are bounded by a [RunLimiter].
//
// # Observing state
//
// [Engine.Snapshot] returns entries, the uploading flag and the last error.
// [Engine.Subscribe] delivers a new snapshot after every change.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError] and
// [MapRejection]. Each category has a code for support reference:
//
//   - FILE001-FILE004: candidate rejections (size, type, count)
//   - UPL001-UPL007: upload and session errors
package intake
