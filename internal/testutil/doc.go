// Package testutil provides test helpers and assertion utilities shared
// across the relay's test suites.
//
// This is an internal package and is not part of the public API. It
// reduces boilerplate and keeps assertion style consistent.
//
// # Assertion Helpers
//
// The package provides lightweight assertion functions that fail the test
// immediately on mismatch:
//
//   - [AssertNoError] — fails if err is non-nil
//   - [AssertError] — fails if err is nil
//   - [AssertEqual] — performs deep equality comparison
//   - [AssertContains] — checks string containment
//
// Example:
//
//	claims, err := verifier.Verify(ctx, tok)
//	testutil.AssertNoError(t, err)
//	testutil.AssertContains(t, claims.TenantID, "tenant-")
//
// # Stream Collector
//
// [CollectStream] drains an iter.Seq2[T, error] iterator into a slice,
// stopping on the first error. This is useful for testing streaming
// interfaces:
//
//	chunks, err := testutil.CollectStream(seq) // seq is an iter.Seq2[T, error]
//	testutil.AssertNoError(t, err)
//	testutil.AssertEqual(t, 3, len(chunks))
package testutil
