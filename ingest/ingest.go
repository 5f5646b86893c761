// Package ingest turns text lines into fixed-length keys for the two CLI
// surfaces that read hash lines: build-index, which only ever sees
// well-formed HIBP-style hash dumps, and lookup, which additionally
// accepts arbitrary passwords to hash on the fly.
package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/crypto/md4"

	"github.com/stbuehler/go-hibp-index/keytype"
)

// MalformedLineError reports an HIBP-format line that is neither blank nor
// valid hex.
type MalformedLineError struct {
	Line string
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %q: %v", e.Line, e.Err)
}
func (e *MalformedLineError) Unwrap() error { return e.Err }

// ParseHIBPLine parses one line of an HIBP-style ordered hash dump:
// "HEX[:count]". The count suffix, if present, is ignored. A blank line
// (after trimming \r\n) is reported via blank=true and is not an error;
// anything else that isn't valid hex of the expected byte length is fatal,
// matching how a building run over a multi-gigabyte download should fail
// fast on the first corrupt line rather than silently skip it.
func ParseHIBPLine(line string, keyLen int) (key []byte, blank bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, true, nil
	}

	hexPart := line
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		hexPart = line[:idx]
	}

	key, err = hex.DecodeString(hexPart)
	if err != nil {
		return nil, false, &MalformedLineError{Line: line, Err: err}
	}
	if len(key) != keyLen {
		return nil, false, &MalformedLineError{Line: line, Err: fmt.Errorf("decoded to %d bytes, want %d", len(key), keyLen)}
	}
	return key, false, nil
}

// HashPlaintext computes the key bytes a password would occupy under kt:
// SHA-1 of the UTF-8 bytes for keytype.SHA1, or the NT hash (MD4 of the
// UTF-16LE encoding) for keytype.NTLM.
func HashPlaintext(kt keytype.KeyType, password string) ([]byte, error) {
	switch kt.Name() {
	case keytype.SHA1.Name():
		sum := sha1.Sum([]byte(password))
		return sum[:], nil
	case keytype.NTLM.Name():
		h := md4.New()
		for _, r := range utf16.Encode([]rune(password)) {
			if _, err := h.Write([]byte{byte(r), byte(r >> 8)}); err != nil {
				return nil, err
			}
		}
		return h.Sum(nil), nil
	default:
		return nil, fmt.Errorf("don't know how to hash plaintext for key type %s", kt.Name())
	}
}

// ParseLookupLine resolves one stdin line for the lookup CLI against key
// type kt: it is tried as hex first, and — unless allowPlaintext is false
// — falls back to hashing the raw line as a password.
func ParseLookupLine(line string, kt keytype.KeyType, allowPlaintext bool) (key []byte, wasHex bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if decoded, hexErr := hex.DecodeString(line); hexErr == nil && len(decoded) == kt.ByteLength() {
		return decoded, true, nil
	}
	if !allowPlaintext {
		return nil, false, fmt.Errorf("line is not valid %s hex and plaintext hashing is disabled", kt.Name())
	}
	key, err = HashPlaintext(kt, line)
	return key, false, err
}
