// Package keytype names the fixed-length binary key shapes an index can
// hold. A KeyType is nothing more than an ASCII name plus a byte length; the
// name is what gets written into an index file's header, so its grammar is
// deliberately narrow.
package keytype

import "fmt"

// InvalidKeyTypeError reports a key-type name that fails the ASCII-graphic
// grammar required by the header format.
type InvalidKeyTypeError struct {
	Name string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type name %q", e.Name)
}

// KeyType identifies the shape of keys stored in one index file: a name
// (written verbatim into the header) and a byte length.
//
// NTLM is registered under the on-disk name "NTLM" for backward
// compatibility with existing index files, even though the 16 bytes it
// actually carries are the NT hash (MD4 of the UTF-16LE password), not an
// NTLM challenge-response. Callers that want the more accurate name in
// user-facing text should say "NT" while still building indexes typed NTLM.
type KeyType struct {
	name   string
	length int
}

func (k KeyType) Name() string    { return k.name }
func (k KeyType) ByteLength() int { return k.length }
func (k KeyType) String() string  { return k.name }

// IsZero reports whether k is the zero value (no type set).
func (k KeyType) IsZero() bool { return k.name == "" && k.length == 0 }

var (
	SHA1 = KeyType{name: "SHA-1", length: 20}
	NTLM = KeyType{name: "NTLM", length: 16}

	registry = map[string]KeyType{
		SHA1.Name(): SHA1,
		NTLM.Name(): NTLM,
	}
)

// Other returns a KeyType for a name not among the registered well-known
// types. It still validates the name's grammar.
func Other(name string, length int) (KeyType, error) {
	if !isASCIIGraphic(name) {
		return KeyType{}, &InvalidKeyTypeError{Name: name}
	}
	return KeyType{name: name, length: length}, nil
}

// Parse resolves a header key-type string to a KeyType. Known names
// (currently "SHA-1" and "NTLM") return their registered byte length;
// anything else grammatically valid is accepted as an unknown type of
// unspecified length (the caller learns the length from the header's
// key_size byte instead).
func Parse(name string) (KeyType, error) {
	if !isASCIIGraphic(name) {
		return KeyType{}, &InvalidKeyTypeError{Name: name}
	}
	if kt, ok := registry[name]; ok {
		return kt, nil
	}
	return KeyType{name: name, length: 0}, nil
}

// isASCIIGraphic reports whether every byte of s is a printable,
// non-whitespace ASCII character (0x21..0x7E) — critically, never '\n',
// which is the header's line delimiter.
func isASCIIGraphic(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7E {
			return false
		}
	}
	return true
}
