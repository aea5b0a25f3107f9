package pngmeta

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func buildPNGWithTextChunk(t *testing.T, keyword, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(pngSignature)

	writeChunk(&buf, "tEXt", append([]byte(keyword+"\x00"), []byte(text)...))
	writeChunk(&buf, "IEND", nil)

	return buf.Bytes()
}

func writeChunk(buf *bytes.Buffer, chunkType string, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(chunkType)
	buf.Write(data)

	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	binary.Write(buf, binary.BigEndian, crc.Sum32())
}

func TestReadExtractsMetadataFromTextChunk(t *testing.T) {
	png := buildPNGWithTextChunk(t, "metadata", `{"prompt":"a fox in snow","seed":7}`)

	meta, err := Read(bytes.NewReader(png))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if meta == nil {
		t.Fatalf("expected metadata, got nil")
	}
	if meta["prompt"] != "a fox in snow" {
		t.Errorf("prompt = %v", meta["prompt"])
	}
}

func TestReadReturnsNilWhenNoMetadataChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pngSignature)
	writeChunk(&buf, "IEND", nil)

	meta, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata, got %v", meta)
	}
}

func TestReadRejectsNonPNGInput(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a png")))
	if err == nil {
		t.Fatalf("expected error for non-PNG input")
	}
}
