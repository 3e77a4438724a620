package audio

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the fixed 44-byte canonical PCM WAV header size used
// throughout this package: RIFF/WAVE, a 16-byte "fmt " chunk, and an 8-byte
// "data" chunk header.
const wavHeaderSize = 44

// Float32ToInt16 converts samples in [-1, 1] to little-endian int16 PCM,
// clamping any out-of-range value rather than wrapping.
func Float32ToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Int16ToFloat32 converts little-endian int16 PCM to samples in [-1, 1].
// Returns an error if pcm's length is not a multiple of 2.
func Int16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: int16 PCM data has odd byte length %d", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// Float32ToWAV wraps samples (in [-1, 1], mono) as a canonical 16-bit PCM
// WAV file at sampleRate: a 44-byte RIFF/WAVE/fmt/data header followed by
// the int16-converted sample data (spec §6 audio wire format).
func Float32ToWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToInt16(samples)
	return wrapPCMAsWAV(pcm, sampleRate, 1)
}

func wrapPCMAsWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// WAVInfo describes a parsed WAV file's format, separate from its sample
// data so callers that only need metadata (sample rate, channel count) don't
// have to decode the payload.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// WAVToFloat32 parses a canonical 16-bit PCM WAV file and returns its
// samples as [-1, 1] floats along with the parsed format. Only uncompressed
// PCM (format code 1) is supported; anything else is a FormatError-class
// caller concern, reported here as a plain error.
func WAVToFloat32(data []byte) ([]float32, WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, WAVInfo{}, fmt.Errorf("audio: WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, WAVInfo{}, fmt.Errorf("audio: not a RIFF/WAVE file")
	}
	if string(data[12:16]) != "fmt " {
		return nil, WAVInfo{}, fmt.Errorf("audio: missing fmt chunk")
	}
	audioFormat := binary.LittleEndian.Uint16(data[20:22])
	if audioFormat != 1 {
		return nil, WAVInfo{}, fmt.Errorf("audio: unsupported WAV format code %d, only PCM is supported", audioFormat)
	}
	info := WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	if info.BitsPerSample != 16 {
		return nil, WAVInfo{}, fmt.Errorf("audio: unsupported bits per sample %d, only 16-bit is supported", info.BitsPerSample)
	}
	if string(data[36:40]) != "data" {
		return nil, WAVInfo{}, fmt.Errorf("audio: missing data chunk")
	}
	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if wavHeaderSize+dataLen > len(data) {
		return nil, WAVInfo{}, fmt.Errorf("audio: data chunk length %d exceeds file size", dataLen)
	}
	samples, err := Int16ToFloat32(data[wavHeaderSize : wavHeaderSize+dataLen])
	if err != nil {
		return nil, WAVInfo{}, err
	}
	return samples, info, nil
}
