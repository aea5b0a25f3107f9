// Package pngmeta reads generation metadata embedded directly in a PNG's
// tEXt/iTXt chunks. This is the fallback path the history surface falls
// back to when an artifact's filename has no row in the metadata store —
// scenario 6 of the end-to-end edge cases this system needs to handle.
//
// No third-party PNG metadata library appears anywhere in the retrieved
// example corpus (nor a general-purpose EXIF reader), so this is
// implemented directly on the standard library's binary/hash primitives;
// see DESIGN.md for the justification.
package pngmeta

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ReadFile opens path and extracts any embedded metadata JSON blob from its
// tEXt/iTXt chunks, keyed by the keyword the original writer used.
func ReadFile(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open png: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read extracts embedded metadata from r, which must start with a valid PNG
// signature. Returns (nil, nil) if no recognizable metadata chunk is found.
func Read(r io.Reader) (map[string]any, error) {
	sig := make([]byte, 8)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("read png signature: %w", err)
	}
	if !bytes.Equal(sig, pngSignature) {
		return nil, fmt.Errorf("not a png file")
	}

	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("read chunk length: %w", err)
		}

		typeBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, typeBuf); err != nil {
			return nil, fmt.Errorf("read chunk type: %w", err)
		}
		chunkType := string(typeBuf)

		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, fmt.Errorf("read chunk data: %w", err)
			}
		}

		// skip CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, fmt.Errorf("read chunk crc: %w", err)
		}

		switch chunkType {
		case "tEXt":
			if meta, ok := parseTextChunk(data); ok {
				return meta, nil
			}
		case "iTXt":
			if meta, ok := parseITXtChunk(data); ok {
				return meta, nil
			}
		case "IEND":
			return nil, nil
		}
	}
}

func parseTextChunk(data []byte) (map[string]any, bool) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		return nil, false
	}
	keyword := string(data[:sep])
	text := data[sep+1:]
	return decodeIfMetadata(keyword, text)
}

func parseITXtChunk(data []byte) (map[string]any, bool) {
	// keyword \0 compression-flag compression-method \0 language-tag \0
	// translated-keyword \0 text
	parts := bytes.SplitN(data, []byte{0}, 5)
	if len(parts) < 5 {
		return nil, false
	}
	keyword := string(parts[0])
	text := parts[4]
	return decodeIfMetadata(keyword, text)
}

func decodeIfMetadata(keyword string, text []byte) (map[string]any, bool) {
	switch keyword {
	case "metadata", "parameters", "fooocus_scheme", "Comment":
	default:
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal(text, &out); err != nil {
		return nil, false
	}
	return out, true
}
