package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PCM format the ESP32 firmware streams in.
const (
	SampleRate    = 44100
	Channels      = 1
	BitsPerSample = 16
)

// WAVHeader builds the 44 byte RIFF/WAVE header for a PCM payload of
// dataLen bytes.
func WAVHeader(dataLen int, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))

	return buf.Bytes()
}

// Stats summarizes what the manager has captured so far.
type Stats struct {
	ClipsSaved   int       `json:"clips_saved"`
	BytesWritten int64     `json:"bytes_written"`
	BufferedMs   int64     `json:"buffered_ms"`
	LastClipAt   time.Time `json:"last_clip_at,omitempty"`
}

// ClipManager accumulates raw PCM chunks and rolls them into fixed-length
// WAV files on disk. Each device id gets its own buffer, so concurrent
// streams never interleave into one clip.
type ClipManager struct {
	dir      string
	duration time.Duration

	mu         sync.Mutex
	streams    map[string]*clipStream
	clipCount  int
	totalBytes int64
	lastClipAt time.Time
}

type clipStream struct {
	buf       bytes.Buffer
	clipStart time.Time
}

func NewClipManager(dir string, clipDuration time.Duration) (*ClipManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	return &ClipManager{
		dir:      dir,
		duration: clipDuration,
		streams:  make(map[string]*clipStream),
	}, nil
}

// AddChunk appends one PCM frame to the device's buffer. When the buffered
// audio spans the clip duration the buffer is flushed to a new WAV file.
func (m *ClipManager) AddChunk(deviceID string, data []byte) {
	if len(data) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.streams[deviceID]
	if s == nil {
		s = &clipStream{}
		m.streams[deviceID] = s
	}
	if s.buf.Len() == 0 {
		s.clipStart = time.Now()
	}
	s.buf.Write(data)

	if time.Since(s.clipStart) >= m.duration {
		m.flushLocked(deviceID, s)
	}
}

// Flush writes out whatever the device has buffered, ending its current
// clip early. Called when a device stream closes.
func (m *ClipManager) Flush(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.streams[deviceID]; s != nil {
		m.flushLocked(deviceID, s)
		delete(m.streams, deviceID)
	}
}

// Close writes out every partially buffered clip. Called once on shutdown,
// after the device sockets are gone.
func (m *ClipManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for deviceID, s := range m.streams {
		m.flushLocked(deviceID, s)
	}
	m.streams = make(map[string]*clipStream)
}

func (m *ClipManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	buffered := 0
	for _, s := range m.streams {
		buffered += s.buf.Len()
	}
	bufferedMs := int64(0)
	if buffered > 0 {
		bytesPerMs := SampleRate * Channels * BitsPerSample / 8 / 1000
		bufferedMs = int64(buffered / bytesPerMs)
	}

	return Stats{
		ClipsSaved:   m.clipCount,
		BytesWritten: m.totalBytes,
		BufferedMs:   bufferedMs,
		LastClipAt:   m.lastClipAt,
	}
}

func (m *ClipManager) flushLocked(deviceID string, s *clipStream) {
	if s.buf.Len() == 0 {
		return
	}

	pcm := s.buf.Bytes()
	m.clipCount++
	name := fmt.Sprintf("clip_%s_%s_%04d.wav", deviceID, s.clipStart.Format("20060102_150405"), m.clipCount)
	path := filepath.Join(m.dir, name)

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, WAVHeader(len(pcm), SampleRate, Channels, BitsPerSample)...)
	out = append(out, pcm...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		log.Printf("❌ failed to save audio clip %s: %v", name, err)
	} else {
		m.totalBytes += int64(len(out))
		m.lastClipAt = time.Now()
		log.Printf("🎙️ saved %s (%d bytes)", name, len(out))
	}

	s.buf.Reset()
}
