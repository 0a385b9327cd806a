// Package errs collects the MARF's error taxonomy.
//
// Recoverable errors (unknown block, already open, ...) are plain
// xerrors-wrapped sentinels the caller can test with errors.Is, mirroring
// how the reference trie library reports its own structural errors
// (common/nodedata.go). Fatal errors (storage corruption, invariant
// violation) are built with cockroachdb/errors so the offending
// block-id/offset travel with the error as structured detail instead of
// being interpolated into a message string that a caller might need to
// parse.
package errs

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/xerrors"
)

// Recoverable sentinels, per spec.md §7. Callers compare with errors.Is.
var (
	ErrAlreadyOpen     = xerrors.New("marf: another block is already open")
	ErrUnknownParent   = xerrors.New("marf: parent block is not committed")
	ErrDuplicateBlock  = xerrors.New("marf: block id already exists in fork table")
	ErrNoOpenBlock     = xerrors.New("marf: no open block for this write")
	ErrUnknownBlock    = xerrors.New("marf: block id not found in fork table")
	ErrLengthMismatch  = xerrors.New("marf: keys and values slices differ in length")
	ErrNotAncestor     = xerrors.New("marf: claimed ancestor is not an ancestor of the query block")
	ErrProofVerifyFail = xerrors.New("marf: proof failed verification")
)

// StorageCorruption reports a fatal, unrecoverable on-disk inconsistency:
// a hash mismatch on read, a malformed node record, or a fork-table entry
// that points at storage which was never completed. Per spec.md §7 this
// MUST propagate to the top of the calling stack — it is never silently
// retried.
func StorageCorruption(blockID [32]byte, offset uint64, reason string) error {
	err := errors.Newf("marf: storage corruption: %s", reason)
	detail := fmt.Sprintf("block=%s offset=%d", hex.EncodeToString(blockID[:]), offset)
	return errors.WithDetail(err, detail)
}

// InvariantViolation reports a bug in the MARF itself (e.g. a node
// variant overflow that the spec says is unreachable, or a fork-table
// cycle). MUST NOT be silently recovered.
func InvariantViolation(format string, args ...interface{}) error {
	return errors.WithDetail(errors.Newf("marf: invariant violation: "+format, args...),
		"this indicates a bug in the MARF, not caller misuse")
}

// IsFatal reports whether err is one of the two fatal classes that must
// propagate rather than be converted into a caller-facing recoverable
// error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "storage corruption") || strings.Contains(msg, "invariant violation")
}
