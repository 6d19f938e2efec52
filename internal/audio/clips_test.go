package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWAVHeaderLayout(t *testing.T) {
	dataLen := 88200 // one second of 44.1kHz mono 16-bit PCM
	header := WAVHeader(dataLen, SampleRate, Channels, BitsPerSample)

	if len(header) != 44 {
		t.Fatalf("header length = %d, want 44", len(header))
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) {
		t.Fatalf("missing RIFF magic: %q", header[0:4])
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != uint32(36+dataLen) {
		t.Fatalf("RIFF size = %d, want %d", got, 36+dataLen)
	}
	if !bytes.Equal(header[8:12], []byte("WAVE")) {
		t.Fatalf("missing WAVE magic: %q", header[8:12])
	}
	if !bytes.Equal(header[12:16], []byte("fmt ")) {
		t.Fatalf("missing fmt chunk: %q", header[12:16])
	}
	if got := binary.LittleEndian.Uint32(header[16:20]); got != 16 {
		t.Fatalf("fmt chunk size = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint16(header[20:22]); got != 1 {
		t.Fatalf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(header[22:24]); got != Channels {
		t.Fatalf("channels = %d, want %d", got, Channels)
	}
	if got := binary.LittleEndian.Uint32(header[24:28]); got != SampleRate {
		t.Fatalf("sample rate = %d, want %d", got, SampleRate)
	}
	wantByteRate := uint32(SampleRate * Channels * BitsPerSample / 8)
	if got := binary.LittleEndian.Uint32(header[28:32]); got != wantByteRate {
		t.Fatalf("byte rate = %d, want %d", got, wantByteRate)
	}
	wantAlign := uint16(Channels * BitsPerSample / 8)
	if got := binary.LittleEndian.Uint16(header[32:34]); got != wantAlign {
		t.Fatalf("block align = %d, want %d", got, wantAlign)
	}
	if got := binary.LittleEndian.Uint16(header[34:36]); got != BitsPerSample {
		t.Fatalf("bits per sample = %d, want %d", got, BitsPerSample)
	}
	if !bytes.Equal(header[36:40], []byte("data")) {
		t.Fatalf("missing data chunk: %q", header[36:40])
	}
	if got := binary.LittleEndian.Uint32(header[40:44]); got != uint32(dataLen) {
		t.Fatalf("data size = %d, want %d", got, dataLen)
	}
}

func TestFlushWritesClipFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewClipManager(dir, time.Minute)
	if err != nil {
		t.Fatalf("NewClipManager: %v", err)
	}

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 512)
	m.AddChunk("esp32-01", pcm)
	m.Flush("esp32-01")

	files, err := filepath.Glob(filepath.Join(dir, "clip_esp32-01_*.wav"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one clip file, got %v (err %v)", files, err)
	}

	content, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading clip: %v", err)
	}
	if len(content) != 44+len(pcm) {
		t.Fatalf("clip size = %d, want %d", len(content), 44+len(pcm))
	}
	if !bytes.Equal(content[44:], pcm) {
		t.Fatalf("PCM payload altered on disk")
	}

	stats := m.Stats()
	if stats.ClipsSaved != 1 {
		t.Fatalf("ClipsSaved = %d, want 1", stats.ClipsSaved)
	}
	if stats.BytesWritten != int64(len(content)) {
		t.Fatalf("BytesWritten = %d, want %d", stats.BytesWritten, len(content))
	}
}

func TestClipRollsOverAfterDuration(t *testing.T) {
	dir := t.TempDir()
	m, err := NewClipManager(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClipManager: %v", err)
	}

	m.AddChunk("dev", []byte{1, 2, 3, 4})
	time.Sleep(40 * time.Millisecond)
	m.AddChunk("dev", []byte{5, 6, 7, 8})

	files, _ := filepath.Glob(filepath.Join(dir, "clip_dev_*.wav"))
	if len(files) != 1 {
		t.Fatalf("expected the buffer to roll into one clip, got %d files", len(files))
	}

	// A fresh clip starts buffering after the rollover.
	m.AddChunk("dev", []byte{9, 9})
	if got := m.Stats().ClipsSaved; got != 1 {
		t.Fatalf("ClipsSaved = %d, want 1", got)
	}
}

func TestInterleavedDevicesGetSeparateClips(t *testing.T) {
	dir := t.TempDir()
	m, err := NewClipManager(dir, time.Minute)
	if err != nil {
		t.Fatalf("NewClipManager: %v", err)
	}

	chunkA := bytes.Repeat([]byte{0xAA}, 256)
	chunkB := bytes.Repeat([]byte{0xBB}, 128)
	m.AddChunk("esp32-a", chunkA)
	m.AddChunk("esp32-b", chunkB)
	m.AddChunk("esp32-a", chunkA)

	// Shutdown flushes every device's partial clip.
	m.Close()

	filesA, _ := filepath.Glob(filepath.Join(dir, "clip_esp32-a_*.wav"))
	filesB, _ := filepath.Glob(filepath.Join(dir, "clip_esp32-b_*.wav"))
	if len(filesA) != 1 || len(filesB) != 1 {
		t.Fatalf("expected one clip per device, got a=%v b=%v", filesA, filesB)
	}

	contentA, err := os.ReadFile(filesA[0])
	if err != nil {
		t.Fatalf("reading clip: %v", err)
	}
	if len(contentA) != 44+2*len(chunkA) {
		t.Fatalf("device a clip size = %d, want %d", len(contentA), 44+2*len(chunkA))
	}
	for i, b := range contentA[44:] {
		if b != 0xAA {
			t.Fatalf("device a payload mixed at offset %d: %#x", i, b)
		}
	}

	contentB, err := os.ReadFile(filesB[0])
	if err != nil {
		t.Fatalf("reading clip: %v", err)
	}
	if len(contentB) != 44+len(chunkB) {
		t.Fatalf("device b clip size = %d, want %d", len(contentB), 44+len(chunkB))
	}
	for i, b := range contentB[44:] {
		if b != 0xBB {
			t.Fatalf("device b payload mixed at offset %d: %#x", i, b)
		}
	}

	if got := m.Stats().ClipsSaved; got != 2 {
		t.Fatalf("ClipsSaved = %d, want 2", got)
	}
}

func TestEmptyChunksIgnored(t *testing.T) {
	dir := t.TempDir()
	m, err := NewClipManager(dir, time.Minute)
	if err != nil {
		t.Fatalf("NewClipManager: %v", err)
	}

	m.AddChunk("dev", nil)
	m.Flush("dev")

	files, _ := filepath.Glob(filepath.Join(dir, "*.wav"))
	if len(files) != 0 {
		t.Fatalf("empty buffer should not write files, got %v", files)
	}
}
