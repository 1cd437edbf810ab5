// Package code implements the module/code registry (C4) and bytecode
// loader (C5): parsing the chunked module image format, interning atoms,
// materializing literal areas, validating code, and publishing
// current/old module versions per spec.md §4.4 and §6.
package code

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic and version header for an ember module image.
var Magic = [4]byte{'E', 'M', 'B', '1'}

const headerVersion uint32 = 1

// Required chunk tags, per spec.md §6.
const (
	TagAtoms   = "AtU8"
	TagImports = "ImpT"
	TagExports = "ExpT"
	TagLiterals = "LitT"
	TagCode    = "Code"
	TagStrings = "StrT"
	TagFuns    = "FunT"
)

// Errors returned by chunk parsing; the loader wraps these with more
// context but preserves them for errors.Is matching.
var (
	ErrBadMagic        = errors.New("code: bad module image magic")
	ErrUnsupportedVersion = errors.New("code: unsupported module image version")
	ErrTruncated       = errors.New("code: chunk length overflows image")
	ErrMissingChunk    = errors.New("code: required chunk missing")
	ErrDuplicateChunk  = errors.New("code: duplicate chunk")
)

// Chunk is a single raw chunk as read from the image: a 4-byte tag, its
// payload, with the length and alignment padding already consumed.
type Chunk struct {
	Tag     string
	Payload []byte
}

// ParseChunks validates the image header and splits the remainder into
// chunks, per the wire format in spec.md §6:
//
//	header: magic(4) version(4)
//	chunk*: tag(4) length(4, big-endian) payload(length) pad(align to 4)
//
// It rejects images whose chunk lengths would overflow the buffer, but
// does not itself enforce which tags are required — that is Loader's job,
// since only the loader knows which tags are mandatory for a given image
// kind.
func ParseChunks(data []byte) ([]Chunk, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("code: image too short for header: %w", ErrTruncated)
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != headerVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, headerVersion)
	}

	var chunks []Chunk
	off := 8
	for off < len(data) {
		if off+8 > len(data) {
			return nil, fmt.Errorf("code: truncated chunk header at offset %d: %w", off, ErrTruncated)
		}
		tag := string(data[off : off+4])
		length := binary.BigEndian.Uint32(data[off+4 : off+8])
		off += 8

		end := off + int(length)
		if length > uint32(len(data)) || end < off || end > len(data) {
			return nil, fmt.Errorf("code: chunk %q length %d overflows image: %w", tag, length, ErrTruncated)
		}

		payload := data[off:end]
		chunks = append(chunks, Chunk{Tag: tag, Payload: payload})

		off = end
		// chunks are padded to 4-byte alignment
		if pad := (4 - (off % 4)) % 4; pad > 0 {
			if off+pad > len(data) {
				return nil, fmt.Errorf("code: chunk %q padding overflows image: %w", tag, ErrTruncated)
			}
			off += pad
		}
	}

	return chunks, nil
}

// requireChunks returns an error naming the first missing tag, if any.
func requireChunks(byTag map[string][]byte, required ...string) error {
	for _, tag := range required {
		if _, ok := byTag[tag]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingChunk, tag)
		}
	}
	return nil
}

// indexChunks groups parsed chunks by tag, rejecting duplicates (each
// required tag must appear at most once in a well-formed image).
func indexChunks(chunks []Chunk) (map[string][]byte, error) {
	byTag := make(map[string][]byte, len(chunks))
	for _, c := range chunks {
		if _, dup := byTag[c.Tag]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChunk, c.Tag)
		}
		byTag[c.Tag] = c.Payload
	}
	return byTag, nil
}
