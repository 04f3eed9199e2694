package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types
const (
	NALUnitTypeIDR = 5
	NALUnitTypeSPS = 7
	NALUnitTypePPS = 8
)

// AnnexB start codes
var (
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	StartCode3 = []byte{0x00, 0x00, 0x01}
)

// ConvertAVCCToAnnexB converts H.264 from AVCC format (4-byte length-prefixed NAL units)
// to Annex-B format (start-code-prefixed NAL units).
func ConvertAVCCToAnnexB(avccData []byte) ([]byte, error) {
	if len(avccData) == 0 {
		return nil, fmt.Errorf("empty AVCC data")
	}

	var annexB bytes.Buffer
	offset := 0
	nalCount := 0

	for offset+4 <= len(avccData) {
		nalSize := int(binary.BigEndian.Uint32(avccData[offset : offset+4]))
		offset += 4

		if nalSize == 0 {
			continue
		}
		if offset+nalSize > len(avccData) {
			return nil, fmt.Errorf("invalid NAL size %d at offset %d (exceeds buffer)", nalSize, offset-4)
		}

		nalUnit := avccData[offset : offset+nalSize]
		offset += nalSize

		// 4-byte start code for parameter sets and IDR slices
		switch nalUnit[0] & 0x1F {
		case NALUnitTypeSPS, NALUnitTypePPS, NALUnitTypeIDR:
			annexB.Write(StartCode4)
		default:
			annexB.Write(StartCode3)
		}

		annexB.Write(nalUnit)
		nalCount++
	}

	if nalCount == 0 {
		return nil, fmt.Errorf("no NAL units found in AVCC data")
	}

	return annexB.Bytes(), nil
}

// SplitAnnexB returns the NAL units of an Annex-B stream without their start codes
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte

	start := -1
	i := 0
	for i+3 <= len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalus = appendNALU(nalus, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 {
		nalus = appendNALU(nalus, data[start:])
	}
	return nalus
}

// appendNALU drops trailing zero bytes, which belong to a following 4-byte start code
func appendNALU(nalus [][]byte, nalu []byte) [][]byte {
	for len(nalu) > 0 && nalu[len(nalu)-1] == 0 {
		nalu = nalu[:len(nalu)-1]
	}
	if len(nalu) == 0 {
		return nalus
	}
	return append(nalus, nalu)
}

// ConvertAnnexBToAVCC converts start-code-prefixed NAL units to 4-byte length-prefixed ones
func ConvertAnnexBToAVCC(annexB []byte) ([]byte, error) {
	nalus := SplitAnnexB(annexB)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("no NAL units found in Annex-B data")
	}

	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}

	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out, nil
}

// IsAVCCFormat reports whether data plausibly starts with a 4-byte length-prefixed NAL unit
func IsAVCCFormat(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	nalSize := binary.BigEndian.Uint32(data[0:4])
	if nalSize == 0 || nalSize > uint32(len(data)-4) {
		return false
	}

	// forbidden_zero_bit(1) + nal_ref_idc(2) + nal_unit_type(5)
	nalHeader := data[4]
	forbiddenBit := (nalHeader >> 7) & 0x01
	nalType := nalHeader & 0x1F
	return forbiddenBit == 0 && nalType >= 1 && nalType <= 21
}

// IsAnnexBFormat detects if data is in Annex-B format by checking for start codes
func IsAnnexBFormat(data []byte) bool {
	return bytes.HasPrefix(data, StartCode4) || bytes.HasPrefix(data, StartCode3)
}

// ToAVCCSample returns the payload as a length-prefixed MP4/FLV sample. Annex-B input is
// converted, AVCC input is kept, and any other payload becomes a single length-prefixed unit.
func ToAVCCSample(payload []byte) []byte {
	if IsAnnexBFormat(payload) {
		if avcc, err := ConvertAnnexBToAVCC(payload); err == nil {
			return avcc
		}
	}
	if IsAVCCFormat(payload) {
		return payload
	}

	out := make([]byte, 0, 4+len(payload))
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}
