package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dicomrt/follow/types"
)

// FileMeta holds the File Meta Information (group 0002) of a Part 10 file.
type FileMeta struct {
	MediaStorageSOPClassUID      string
	MediaStorageSOPInstanceUID   string
	TransferSyntaxUID            string
	ImplementationClassUID       string
	ImplementationVersionName    string
	SourceApplicationEntityTitle string

	// DatasetOffset is the byte offset where the dataset begins.
	DatasetOffset int
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}

// ParseFileMeta reads the preamble and File Meta Information of a Part 10
// file. The file meta group is always encoded in Explicit VR Little Endian.
func ParseFileMeta(data []byte) (*FileMeta, error) {
	if len(data) < 132 {
		return nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}
	if string(data[128:132]) != "DICM" {
		return nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	meta := &FileMeta{}
	offset := 132

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])

		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int
		if isLongVR(vr) {
			if offset+12 > len(data) {
				return nil, fmt.Errorf("truncated file meta element at offset %d", offset)
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if valueOffset+int(length) > len(data) {
			return nil, fmt.Errorf("truncated file meta element at offset %d", offset)
		}

		value := strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")
		switch (Tag{group, element}) {
		case TagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = value
		case TagMediaStorageSOPInstance:
			meta.MediaStorageSOPInstanceUID = value
		case TagTransferSyntaxUID:
			meta.TransferSyntaxUID = value
		case TagImplementationClassUID:
			meta.ImplementationClassUID = value
		case TagImplementationVersionName:
			meta.ImplementationVersionName = value
		case TagSourceApplicationEntity:
			meta.SourceApplicationEntityTitle = value
		}

		offset = valueOffset + int(length)
	}

	if meta.TransferSyntaxUID == "" {
		// Some senders omit (0002,0010); the DICOM default applies.
		meta.TransferSyntaxUID = types.ImplicitVRLittleEndian
	}

	meta.DatasetOffset = offset
	return meta, nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta
// Information to extract just the dataset. DIMSE operations like C-STORE
// expect the bare dataset without the Part 10 wrapper.
func StripPart10Header(data []byte) ([]byte, error) {
	meta, err := ParseFileMeta(data)
	if err != nil {
		return nil, err
	}
	if meta.DatasetOffset >= len(data) {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}
	return data[meta.DatasetOffset:], nil
}

// EncodeFileMeta builds the preamble, DICM prefix and group 0002 elements.
// The group length element (0002,0000) is computed over the emitted elements.
func EncodeFileMeta(meta *FileMeta) []byte {
	var body []byte
	body = appendMetaElement(body, TagMediaStorageSOPClassUID, VR_UI, meta.MediaStorageSOPClassUID)
	body = appendMetaElement(body, TagMediaStorageSOPInstance, VR_UI, meta.MediaStorageSOPInstanceUID)
	body = appendMetaElement(body, TagTransferSyntaxUID, VR_UI, meta.TransferSyntaxUID)

	implementationClass := meta.ImplementationClassUID
	if implementationClass == "" {
		implementationClass = types.ImplementationClassUID
	}
	body = appendMetaElement(body, TagImplementationClassUID, VR_UI, implementationClass)

	implementationVersion := meta.ImplementationVersionName
	if implementationVersion == "" {
		implementationVersion = types.ImplementationVersionName
	}
	body = appendMetaElement(body, TagImplementationVersionName, VR_SH, implementationVersion)

	if meta.SourceApplicationEntityTitle != "" {
		body = appendMetaElement(body, TagSourceApplicationEntity, VR_AE, meta.SourceApplicationEntityTitle)
	}

	result := make([]byte, 128, 132+12+len(body))
	result = append(result, "DICM"...)

	// File Meta Information Group Length (0002,0000) UL
	header := make([]byte, 12)
	binary.LittleEndian.PutUint16(header[0:2], 0x0002)
	binary.LittleEndian.PutUint16(header[2:4], 0x0000)
	copy(header[4:6], VR_UL)
	binary.LittleEndian.PutUint16(header[6:8], 4)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(body)))
	result = append(result, header...)

	return append(result, body...)
}

func appendMetaElement(result []byte, tag Tag, vr, value string) []byte {
	valueBytes := []byte(value)
	if len(valueBytes)%2 == 1 {
		valueBytes = append(valueBytes, paddingByte(vr))
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint16(header[0:2], tag.Group)
	binary.LittleEndian.PutUint16(header[2:4], tag.Element)
	copy(header[4:6], vr)
	binary.LittleEndian.PutUint16(header[6:8], uint16(len(valueBytes)))
	result = append(result, header...)
	return append(result, valueBytes...)
}

// BuildPart10 wraps encoded dataset bytes in a Part 10 envelope.
func BuildPart10(meta *FileMeta, datasetBytes []byte) []byte {
	result := EncodeFileMeta(meta)
	return append(result, datasetBytes...)
}
