package blockstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ligustah/bdex/pkg/manifest"
)

// VerifyResult contains the results of checking stored blocks against a
// manifest.
type VerifyResult struct {
	Valid      bool     // true if every block is stored and hashes correctly
	BlockCount int      // number of blocks in the manifest
	Present    int      // number of blocks stored with the right hash
	Missing    int      // number of blocks not stored
	Mismatched int      // number of blocks stored with the wrong content
	Bytes      int64    // total size of the valid blocks
	Errors     []string // detailed error messages
}

// Verify hashes every stored block of blocks without touching the network.
//
// Returns an error if:
//   - A block exists but cannot be read (network/permission error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
//
// Note: Missing or corrupt blocks are NOT returned as errors. Instead, they
// are reported in the VerifyResult with Valid=false.
func Verify(ctx context.Context, s *Store, blocks []manifest.Block) (*VerifyResult, error) {
	result := &VerifyResult{
		Valid:      true,
		BlockCount: len(blocks),
		Errors:     make([]string, 0),
	}

	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sum, err := s.Checksum(ctx, b.SHA1)
		if err != nil {
			if errors.Is(err, ErrMissingBlock) {
				result.Valid = false
				result.Missing++
				result.Errors = append(result.Errors, fmt.Sprintf("block %d missing: %s", i, b.SHA1))
				continue
			}
			return nil, fmt.Errorf("blockstore: verify block %d: %w", i, err)
		}

		if !strings.EqualFold(sum, b.SHA1) {
			result.Valid = false
			result.Mismatched++
			result.Errors = append(result.Errors,
				fmt.Sprintf("block %d hash mismatch: expected %s, got %s", i, b.SHA1, sum))
			continue
		}

		size, err := s.Size(ctx, b.SHA1)
		if err != nil {
			return nil, fmt.Errorf("blockstore: verify block %d: %w", i, err)
		}
		result.Present++
		result.Bytes += size
	}

	return result, nil
}
