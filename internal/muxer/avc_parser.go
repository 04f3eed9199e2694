package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"camproducer/internal/logger"
	"camproducer/pkg/models"
)

// FLV video tag constants
const (
	FLVCodecIDAVC = 7

	FLVFrameTypeKey   = 1
	FLVFrameTypeInter = 2

	AVCPacketTypeSequenceHeader = 0
	AVCPacketTypeNALU           = 1
	AVCPacketTypeEndOfSequence  = 2
)

// AVCDecoderConfigurationRecord is the AVCC codec private data of an H.264 track
type AVCDecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	NALUnitLength        uint8
	SPS                  [][]byte // Sequence Parameter Sets
	PPS                  [][]byte // Picture Parameter Sets
}

// ParseAVCDecoderConfigurationRecord parses AVCC codec private data
func ParseAVCDecoderConfigurationRecord(data []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("data too short for AVCDecoderConfigurationRecord: %d bytes", len(data))
	}

	record := &AVCDecoderConfigurationRecord{
		ConfigurationVersion: data[0],
		AVCProfileIndication: data[1],
		ProfileCompatibility: data[2],
		AVCLevelIndication:   data[3],
		NALUnitLength:        (data[4] & 0x03) + 1, // lower 2 bits hold length size minus one
	}

	if record.ConfigurationVersion != 1 {
		return nil, fmt.Errorf("unsupported AVCDecoderConfigurationRecord version %d", record.ConfigurationVersion)
	}

	r := bytes.NewReader(data[5:])

	// Reserved (3 bits) + number of SPS (5 bits)
	numOfSPS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	numOfSPS &= 0x1F
	if numOfSPS == 0 {
		return nil, fmt.Errorf("AVCDecoderConfigurationRecord has no SPS")
	}

	record.SPS, err = readParameterSets(r, int(numOfSPS), "SPS")
	if err != nil {
		return nil, err
	}

	numOfPPS, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read PPS count: %w", err)
	}

	record.PPS, err = readParameterSets(r, int(numOfPPS), "PPS")
	if err != nil {
		return nil, err
	}

	logger.WithComponent("muxer").Debug().
		Uint8("profile", record.AVCProfileIndication).
		Uint8("level", record.AVCLevelIndication).
		Uint8("nalu_length", record.NALUnitLength).
		Int("sps", len(record.SPS)).
		Int("pps", len(record.PPS)).
		Msg("Parsed AVCDecoderConfigurationRecord")

	return record, nil
}

// readParameterSets reads count 16-bit length prefixed parameter sets
func readParameterSets(r *bytes.Reader, count int, kind string) ([][]byte, error) {
	sets := make([][]byte, count)
	for i := 0; i < count; i++ {
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("failed to read %s length: %w", kind, err)
		}

		set := make([]byte, length)
		if _, err := io.ReadFull(r, set); err != nil {
			return nil, fmt.Errorf("failed to read %s data: %w", kind, err)
		}
		sets[i] = set
	}
	return sets, nil
}

// CodecInfo converts the record into the stream codec configuration
func (r *AVCDecoderConfigurationRecord) CodecInfo(privateData []byte, bitrate, frameRate int) *models.CodecInfo {
	return &models.CodecInfo{
		Codec:         "h264",
		PrivateData:   privateData,
		SPS:           r.SPS,
		PPS:           r.PPS,
		NALUnitLength: int(r.NALUnitLength),
		Bitrate:       bitrate,
		FrameRate:     frameRate,
	}
}

// ParseFLVVideoPacket extracts codec data and frame type from FLV video packet
// Returns: isSequenceHeader, isKeyFrame, avcData, error
func ParseFLVVideoPacket(data []byte) (isSequenceHeader bool, isKeyFrame bool, avcData []byte, err error) {
	if len(data) < 5 {
		return false, false, nil, fmt.Errorf("video packet too short: %d bytes", len(data))
	}

	// Byte 0: Frame type (4 bits) + Codec ID (4 bits)
	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F

	if codecID != FLVCodecIDAVC {
		return false, false, nil, fmt.Errorf("not H.264/AVC codec: %d", codecID)
	}

	isKeyFrame = frameType == FLVFrameTypeKey
	isSequenceHeader = data[1] == AVCPacketTypeSequenceHeader

	// Bytes 2-4 carry the composition time offset
	avcData = data[5:]

	return isSequenceHeader, isKeyFrame, avcData, nil
}

// BuildFLVVideoPacket builds the body of an FLV video tag carrying H.264.
// compositionTimeMs is the PTS-DTS offset in milliseconds (24-bit signed).
func BuildFLVVideoPacket(keyFrame bool, avcPacketType uint8, compositionTimeMs int32, avcData []byte) []byte {
	frameType := byte(FLVFrameTypeInter)
	if keyFrame {
		frameType = FLVFrameTypeKey
	}

	pkt := make([]byte, 5+len(avcData))
	pkt[0] = frameType<<4 | FLVCodecIDAVC
	pkt[1] = avcPacketType
	pkt[2] = byte(compositionTimeMs >> 16)
	pkt[3] = byte(compositionTimeMs >> 8)
	pkt[4] = byte(compositionTimeMs)
	copy(pkt[5:], avcData)
	return pkt
}
