package engine

import (
	"github.com/zeebo/blake3"
)

// Source is guest code to parse or evaluate.
type Source struct {
	Language string
	Name     string
	MIMEType string
	Content  []byte

	// NoCache bypasses the parsed-source cache.
	NoCache bool
}

// NewSource creates a source from text.
func NewSource(language, name, content string) Source {
	return Source{Language: language, Name: name, Content: []byte(content)}
}

// NewBinarySource creates a source from bytes, e.g. a WebAssembly module.
func NewBinarySource(language, name string, content []byte) Source {
	return Source{Language: language, Name: name, Content: content}
}

// Text returns the content as a string.
func (s Source) Text() string { return string(s.Content) }

// Key identifies the source for caching.
func (s Source) Key() [32]byte {
	h := blake3.New()
	for _, part := range []string{s.Language, s.Name, s.MIMEType} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(s.Content)

	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
