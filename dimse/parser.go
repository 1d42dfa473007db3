package dimse

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dicomrt/follow/types"
)

func trimUIDValue(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// parseDIMSECommand parses a group 0000 command set encoded as implicit VR
// little endian, which is what the command set always uses regardless of the
// negotiated transfer syntax.
func parseDIMSECommand(data []byte, logger *slog.Logger) (*types.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}
	msg := &types.Message{}

	if len(data) < 12 {
		return nil, fmt.Errorf("DIMSE data too short: %d bytes", len(data))
	}

	logger.Debug("Parsing DIMSE command data", "size_bytes", len(data))

	offset := 0
	for offset < len(data)-8 {
		if offset+8 > len(data) {
			logger.Debug("Not enough data for header", "offset", offset)
			break
		}

		// Read tag (group, element)
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		// Sanity check length
		if length > 1000000 { // 1MB limit
			logger.Warn("Element length too large, probably parsing error", "length", length)
			break
		}

		// Ensure we have enough data for the value
		if offset+8+int(length) > len(data) {
			logger.Debug("Not enough data for element value",
				"have_bytes", len(data),
				"need_bytes", offset+8+int(length))
			break
		}

		// Only process command group elements (group 0000)
		if group == 0x0000 {
			valueStart := offset + 8
			valueEnd := valueStart + int(length)

			switch element {
			case 0x0100: // Command Field
				if length == 2 {
					msg.CommandField = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					logger.Warn("Command Field has wrong length", "length", length)
				}
			case 0x0110: // Message ID
				if length == 2 {
					msg.MessageID = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					logger.Warn("Message ID has wrong length", "length", length)
				}
			case 0x0120: // Message ID Being Responded To
				if length == 2 {
					msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0700: // Priority
				if length == 2 {
					msg.Priority = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0800: // Command Data Set Type
				if length == 2 {
					msg.CommandDataSetType = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					logger.Warn("Command Data Set Type has wrong length", "length", length)
				}
			case 0x0900: // Status
				if length == 2 {
					msg.Status = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0002: // Affected SOP Class UID
				if length > 0 {
					msg.AffectedSOPClassUID = trimUIDValue(data[valueStart:valueEnd])
				}
			case 0x1000: // Affected SOP Instance UID
				if length > 0 {
					msg.AffectedSOPInstanceUID = trimUIDValue(data[valueStart:valueEnd])
				}
			default:
				// Skip unknown command elements silently
			}
		}

		// Move to next element
		offset += 8 + int(length)

		// Ensure even alignment (DICOM elements should be even-length)
		if length%2 == 1 {
			offset++ // Skip padding byte
		}
	}

	logger.Debug("Parsed DIMSE command",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)
	return msg, nil
}
