package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dicomrt/follow/types"
)

// StandardRTPlanStorage is the SOP class UID written onto the wire in place
// of the vendor private RT Plan SOP class.
const StandardRTPlanStorage = types.RTPlanStorage

// RewriteVendorSOPClass replaces the vendor private RT Plan SOP class UID in
// the SOPClassUID element (0008,0016) with the standard RT Plan Storage UID.
//
// The replacement is a byte splice on the serialized dataset: only the value
// and its length field change, everything else is carried through untouched.
// This runs at send time only, stored files keep the vendor UID.
func RewriteVendorSOPClass(datasetBytes []byte, transferSyntaxUID string) ([]byte, bool, error) {
	explicitVR := transferSyntaxUID != types.ImplicitVRLittleEndian

	offset := 0
	for offset+8 <= len(datasetBytes) {
		group := binary.LittleEndian.Uint16(datasetBytes[offset : offset+2])
		element := binary.LittleEndian.Uint16(datasetBytes[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		// SOPClassUID sits in group 0008. Once past it, stop scanning so
		// sequences and pixel data are never walked.
		if group > 0x0008 {
			return datasetBytes, false, nil
		}

		var length uint32
		var valueOffset int
		var lengthFieldOffset int
		var lengthFieldSize int

		if explicitVR {
			vr := string(datasetBytes[offset+4 : offset+6])
			if isLongVR(vr) {
				if offset+12 > len(datasetBytes) {
					return datasetBytes, false, nil
				}
				length = binary.LittleEndian.Uint32(datasetBytes[offset+8 : offset+12])
				lengthFieldOffset = offset + 8
				lengthFieldSize = 4
				valueOffset = offset + 12
			} else {
				length = uint32(binary.LittleEndian.Uint16(datasetBytes[offset+6 : offset+8]))
				lengthFieldOffset = offset + 6
				lengthFieldSize = 2
				valueOffset = offset + 8
			}
		} else {
			length = binary.LittleEndian.Uint32(datasetBytes[offset+4 : offset+8])
			lengthFieldOffset = offset + 4
			lengthFieldSize = 4
			valueOffset = offset + 8
		}

		if length == undefinedLength || valueOffset+int(length) > len(datasetBytes) {
			return datasetBytes, false, nil
		}

		if tag == TagSOPClassUID {
			value := strings.TrimRight(string(datasetBytes[valueOffset:valueOffset+int(length)]), "\x00 ")
			if value != types.PrivateRTPlanStorage {
				return datasetBytes, false, nil
			}
			return spliceSOPClass(datasetBytes, lengthFieldOffset, lengthFieldSize, valueOffset, int(length))
		}

		offset = valueOffset + int(length)
		if length%2 == 1 {
			offset++
		}
	}

	return datasetBytes, false, nil
}

func spliceSOPClass(data []byte, lengthFieldOffset, lengthFieldSize, valueOffset, oldLength int) ([]byte, bool, error) {
	newValue := []byte(StandardRTPlanStorage)
	if len(newValue)%2 == 1 {
		newValue = append(newValue, 0x00)
	}

	result := make([]byte, 0, len(data)-oldLength+len(newValue))
	result = append(result, data[:lengthFieldOffset]...)

	switch lengthFieldSize {
	case 2:
		if len(newValue) > 0xFFFF {
			return data, false, fmt.Errorf("replacement UID too long for 16-bit length field")
		}
		lengthBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(lengthBytes, uint16(len(newValue)))
		result = append(result, lengthBytes...)
	case 4:
		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(newValue)))
		result = append(result, lengthBytes...)
	default:
		return data, false, fmt.Errorf("unexpected length field size %d", lengthFieldSize)
	}

	result = append(result, newValue...)
	result = append(result, data[valueOffset+oldLength:]...)
	return result, true, nil
}
