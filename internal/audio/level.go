package audio

import (
	"encoding/binary"
	"math"
)

const (
	silenceFloorDB = -160.0
	meterRangeDB   = 50.0
)

// rmsDecibels returns the RMS power of little-endian signed 16-bit PCM in dBFS.
func rmsDecibels(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return silenceFloorDB
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return silenceFloorDB
	}
	return math.Max(20*math.Log10(rms), silenceFloorDB)
}

// normalizeLevel maps dBFS onto [0, 1]; -50 dB and below is silence.
func normalizeLevel(db float64) float32 {
	level := (db + meterRangeDB) / meterRangeDB
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return float32(level)
	}
}
