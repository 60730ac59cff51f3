// Package manifest describes a file that was split into blocks and hidden in
// PNG images.
//
// The manifest itself is a JSON document carried by a PNG payload (see
// package pngpayload) whose image is addressed by an identifier. It names the
// original file, its size and SHA-1, and the ordered list of blocks that
// concatenate to it.
//
// # Usage
//
//	id, err := manifest.ParseIdentifier(arg)
//	m, err := manifest.Fetch(ctx, client, manifest.DefaultURLTemplate, id)
//	for i, b := range m.Blocks {
//	    // b.URL, b.Size, b.SHA1; i is the merge position
//	}
//
// # Format
//
//	{
//	  "time": 1612345678,
//	  "filename": "movie.mp4",
//	  "size": 1073741824,
//	  "sha1": "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12",
//	  "block": [
//	    {"url": "http://i0.hdslb.com/bfs/album/<sha1>.png", "size": 8388608, "sha1": "<sha1>"},
//	    ...
//	  ]
//	}
package manifest
