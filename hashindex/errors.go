package hashindex

import "fmt"

// BuilderCreateError reports a failure creating a new index file for
// writing. Reason is one of the constants below.
type BuilderCreateError struct {
	Reason string
	Err    error
}

const (
	ReasonIOError             = "io"
	ReasonInvalidDescription  = "invalid-description"
	ReasonInvalidKeyLength    = "invalid-key-length"
	ReasonHeaderTooBig        = "header-too-big"
	ReasonKeyTypeError        = "key-type"
	ReasonTableReadError      = "table-read"
	ReasonInvalidHeader       = "invalid-header"
	ReasonInvalidSegmentLen   = "invalid-segment-length"
	ReasonInvalidDepth        = "invalid-depth"
	ReasonTooMuchTableData    = "too-much-table-data"
	ReasonInvalidTableOffsets = "invalid-table-offsets"
	ReasonInvalidMtime        = "invalid-mtime"
)

func (e *BuilderCreateError) Error() string {
	return fmt.Sprintf("creating index builder (%s): %v", e.Reason, e.Err)
}
func (e *BuilderCreateError) Unwrap() error { return e.Err }

// IndexOpenError reports a failure opening an existing index file for
// reading.
type IndexOpenError struct {
	Reason string
	Err    error
}

func (e *IndexOpenError) Error() string {
	return fmt.Sprintf("opening index (%s): %v", e.Reason, e.Err)
}
func (e *IndexOpenError) Unwrap() error { return e.Err }

// TableReadError reports a failure parsing or validating the bucket table.
type TableReadError struct {
	Reason string
	Err    error
}

func (e *TableReadError) Error() string {
	return fmt.Sprintf("reading bucket table (%s): %v", e.Reason, e.Err)
}
func (e *TableReadError) Unwrap() error { return e.Err }

// LookupError reports a failure during a point lookup or prefix scan.
type LookupError struct {
	Reason string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("looking up entry (%s): %v", e.Reason, e.Err)
}
func (e *LookupError) Unwrap() error { return e.Err }

// InvalidSegmentLengthError reports a bucket whose byte range isn't a
// multiple of the entry size.
type InvalidSegmentLengthError struct {
	Bucket               int
	SegmentLen, EntrySize int
}

func (e *InvalidSegmentLengthError) Error() string {
	return fmt.Sprintf("bucket %d segment length %d is not a multiple of entry size %d", e.Bucket, e.SegmentLen, e.EntrySize)
}

// UnorderedEntryError reports an AddEntry call whose key did not strictly
// increase over the previously added key.
type UnorderedEntryError struct {
	Previous, Got []byte
}

func (e *UnorderedEntryError) Error() string {
	return fmt.Sprintf("entry key %x does not strictly follow previous key %x", e.Got, e.Previous)
}
