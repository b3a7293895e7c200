package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Chunk is the immutable value C1 hands downstream: 16kHz mono i16 samples
// plus a capture timestamp (spec §3).
type Chunk struct {
	Samples     []int16
	SampleRate  int
	Channels    int
	TimestampMs int64
}

// NowMsFunc lets callers (and tests) control the capture timestamp source.
type NowMsFunc func() int64

// Source is C1 Audio Source: it owns the OS input device, the native-format
// accumulation buffer, and the resampler arena, and emits fixed-target
// chunks to a downstream callback (spec §4.1).
type Source struct {
	mu        sync.Mutex
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	capturing bool

	nativeRate     int
	nativeChannels int

	bufMu     sync.Mutex
	nativeBuf []int16
	resampler *Resampler

	onChunk func(Chunk)
	nowMs   NowMsFunc
}

// NewSource builds an uninitialised Source. nowMs defaults to a wall-clock
// millisecond source if nil.
func NewSource(nowMs NowMsFunc) *Source {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Source{nowMs: nowMs}
}

// Initialize selects the default input device. It prefers a 32-bit float
// capture format (spec §4.1); miniaudio's capture channel count is forced to
// stereo so the stereo-to-mono downmix path always runs, matching devices
// that don't offer a native mono capture mode.
func (s *Source) Initialize(preferredNativeRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mctx != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: init context: %w", err)
	}

	if preferredNativeRate <= 0 {
		preferredNativeRate = 48000
	}

	s.mctx = mctx
	s.nativeRate = preferredNativeRate
	s.nativeChannels = 2
	s.resampler = NewResampler(s.nativeRate, 16000)
	return nil
}

// IsCapturing reports whether StartCapture has been called without a
// matching StopCapture.
func (s *Source) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// StartCapture opens the input stream and begins delivering chunks to
// onChunk from the device's audio thread. Re-entrant calls fail (spec
// §4.1: "Capture(\"Already capturing\")").
func (s *Source) StartCapture(onChunk func(Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return fmt.Errorf("audio: already capturing")
	}
	if s.mctx == nil {
		return fmt.Errorf("audio: not initialized")
	}

	s.onChunk = onChunk
	s.bufMu.Lock()
	s.nativeBuf = s.nativeBuf[:0]
	s.resampler.Reset()
	s.bufMu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(s.nativeChannels)
	deviceConfig.SampleRate = uint32(s.nativeRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
	})
	if err != nil {
		return fmt.Errorf("audio: init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audio: start device: %w", err)
	}

	s.device = device
	s.capturing = true
	return nil
}

// StopCapture stops the stream. Idempotent after the first call (spec
// §4.1).
func (s *Source) StopCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return
	}
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	s.capturing = false
}

// Close releases the malgo context. Call after StopCapture.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mctx != nil {
		s.mctx.Uninit()
		s.mctx = nil
	}
}

// onSamples runs on the audio driver thread. It must never block or panic
// (spec §4.1 step 6): any failure here is dropped, not propagated.
//
// Incoming stereo f32 is down-mixed to mono and quantized to native-rate i16
// samples, which accumulate in nativeBuf; the resampler only ever runs on
// exactly RESAMPLER_BLOCK native samples at a time (spec §4.1 steps 4-5), so
// a short or oddly-sized driver callback never changes the resampler's
// input granularity.
func (s *Source) onSamples(_ []byte, pInput []byte, frameCount uint32) {
	if pInput == nil || len(pInput) == 0 {
		return
	}

	stereo := bytesToF32(pInput)
	mono := f32StereoToMono(stereo)

	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	for _, f := range mono {
		s.nativeBuf = append(s.nativeBuf, F32ToI16(f))
	}

	for len(s.nativeBuf) >= RESAMPLER_BLOCK {
		block := s.nativeBuf[:RESAMPLER_BLOCK]
		s.nativeBuf = s.nativeBuf[RESAMPLER_BLOCK:]
		s.drainBlockLocked(block)
	}
}

// drainBlockLocked resamples exactly one native-format block and, if it
// produced output, delivers it downstream. Callers must hold bufMu.
func (s *Source) drainBlockLocked(block []int16) {
	out := s.resampler.Process(I16ToF32(block))
	if len(out) == 0 {
		return
	}

	samples := make([]int16, len(out))
	for i, f := range out {
		samples[i] = F32ToI16(f)
	}

	cb := s.onChunk
	ts := int64(0)
	if s.nowMs != nil {
		ts = s.nowMs()
	}
	if cb != nil {
		cb(Chunk{Samples: samples, SampleRate: 16000, Channels: 1, TimestampMs: ts})
	}
}

func bytesToF32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func f32StereoToMono(stereo []float32) []float32 {
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[2*i] + stereo[2*i+1]) / 2
	}
	return mono
}
