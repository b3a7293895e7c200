package audio

import (
	"bytes"
	"encoding/binary"
	"os"
)

// DumpDebugWAV writes captured 16kHz mono i16 chunks to a WAV file for
// manual QA of the capture/resample path (not part of the streaming
// pipeline itself — a debug aid wired through cmd/agent's -dump-wav flag).
func DumpDebugWAV(path string, samples []int16, sampleRate int) error {
	wav := NewWavBuffer(EncodeLE16(samples), sampleRate)
	return os.WriteFile(path, wav, 0o644)
}

// NewWavBuffer wraps raw little-endian PCM in a minimal mono 16-bit WAV
// container.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
