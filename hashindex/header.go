package hashindex

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/stbuehler/go-hibp-index/keytype"
)

// Magic is the first line of every index file.
const Magic = "hash-index-v0"

// MaxHeaderSize bounds the three text lines plus the two size bytes.
const MaxHeaderSize = 4096

type header struct {
	KeyType     keytype.KeyType
	Description string
	KeySize     uint8
	PayloadSize uint8
	// byteLen is the exact number of header bytes on disk (offset of the
	// first entry).
	byteLen int64
}

func validateDescription(description string) error {
	if strings.ContainsRune(description, '\n') {
		return &BuilderCreateError{Reason: ReasonInvalidDescription, Err: fmt.Errorf("description contains a newline")}
	}
	return nil
}

func writeHeader(w io.Writer, kt keytype.KeyType, description string, keySize, payloadSize uint8) (int64, error) {
	if strings.ContainsRune(kt.Name(), '\n') {
		return 0, &BuilderCreateError{Reason: ReasonInvalidDescription, Err: fmt.Errorf("key type name contains a newline")}
	}
	if err := validateDescription(description); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.WriteByte('\n')
	buf.WriteString(kt.Name())
	buf.WriteByte('\n')
	buf.WriteString(description)
	buf.WriteByte('\n')
	buf.WriteByte(keySize)
	buf.WriteByte(payloadSize)

	if buf.Len() > MaxHeaderSize {
		return 0, &BuilderCreateError{Reason: ReasonHeaderTooBig, Err: fmt.Errorf("header is %d bytes, max %d", buf.Len(), MaxHeaderSize)}
	}

	n, err := w.Write(buf.Bytes())
	if err != nil {
		return 0, &BuilderCreateError{Reason: ReasonIOError, Err: err}
	}
	return int64(n), nil
}

// readHeader parses the three text lines and two size bytes from the start
// of r, enforcing MaxHeaderSize as a hard limit on how many bytes it will
// read while looking for them.
func readHeader(r io.Reader) (*header, error) {
	lr := &limitedByteReader{r: bufio.NewReader(io.LimitReader(r, MaxHeaderSize))}

	magic, err := lr.readLine()
	if err != nil {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading magic: %w", err)}
	}
	if magic != Magic {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("bad magic %q", magic)}
	}

	keyTypeName, err := lr.readLine()
	if err != nil {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading key type: %w", err)}
	}
	kt, err := keytype.Parse(keyTypeName)
	if err != nil {
		return nil, &IndexOpenError{Reason: ReasonKeyTypeError, Err: err}
	}

	description, err := lr.readLine()
	if err != nil {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading description: %w", err)}
	}

	sizes := make([]byte, 2)
	if _, err := io.ReadFull(lr.r, sizes); err != nil {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading key/payload size: %w", err)}
	}
	lr.n += 2

	if lr.n > MaxHeaderSize {
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("header is %d bytes, max %d", lr.n, MaxHeaderSize)}
	}

	return &header{
		KeyType:     kt,
		Description: description,
		KeySize:     sizes[0],
		PayloadSize: sizes[1],
		byteLen:     lr.n,
	}, nil
}

// limitedByteReader tracks exactly how many bytes have been consumed so the
// caller can compute the header's total on-disk length (needed to locate
// the first entry and, for readers, the scan regions the bucket table
// refers to).
type limitedByteReader struct {
	r *bufio.Reader
	n int64
}

func (l *limitedByteReader) readLine() (string, error) {
	line, err := l.r.ReadString('\n')
	l.n += int64(len(line))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}
