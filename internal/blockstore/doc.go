// Package blockstore keeps downloaded blocks until they are merged into the
// output file.
//
// Blocks are stored by their SHA-1 hex digest. The default store is a local
// directory named after the manifest identifier, next to the output file:
//
//	{dest}/{identifier}/{sha1}
//	{dest}/{filename}              (written by Merge)
//
// Any gocloud.dev/blob bucket URL can be used instead (s3://, gs://, mem://),
// in which case blocks live under the "{identifier}/" prefix of the bucket.
//
// # Writing
//
// [Store.NewWriter] returns a [Writer]. Close commits the block; Abort drops
// it and removes any partial object.
//
// # Merging
//
// [Merge] concatenates blocks in the order given, computing the SHA-1 and
// length of the result. [MergeFile] does the same into a new file that must
// not exist yet. [Store.Destroy] removes all blocks once they are no longer
// needed.
package blockstore
