package dicom

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/dicomrt/follow/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
	TransferSyntaxExplicitVRBigEndian    = types.ExplicitVRBigEndian
)

const undefinedLength = 0xFFFFFFFF

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// Tags used throughout the routing pipeline.
var (
	TagFileMetaGroupLength       = Tag{0x0002, 0x0000}
	TagMediaStorageSOPClassUID   = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstance   = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID         = Tag{0x0002, 0x0010}
	TagImplementationClassUID    = Tag{0x0002, 0x0012}
	TagImplementationVersionName = Tag{0x0002, 0x0013}
	TagSourceApplicationEntity   = Tag{0x0002, 0x0100}

	TagSpecificCharacterSet  = Tag{0x0008, 0x0005}
	TagSOPClassUID           = Tag{0x0008, 0x0016}
	TagSOPInstanceUID        = Tag{0x0008, 0x0018}
	TagModality              = Tag{0x0008, 0x0060}
	TagStudyDescription      = Tag{0x0008, 0x1030}
	TagSeriesDescription     = Tag{0x0008, 0x103E}
	TagReferencedSOPClass    = Tag{0x0008, 0x1150}
	TagReferencedSOPInstance = Tag{0x0008, 0x1155}

	TagPatientName = Tag{0x0010, 0x0010}
	TagPatientID   = Tag{0x0010, 0x0020}

	TagStudyInstanceUID    = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID   = Tag{0x0020, 0x000E}
	TagFrameOfReferenceUID = Tag{0x0020, 0x0052}

	TagRTPlanLabel              = Tag{0x300A, 0x0002}
	TagReferencedRTPlanSequence = Tag{0x300C, 0x0002}

	TagPixelData = Tag{0x7FE0, 0x0010}

	tagItem              = Tag{0xFFFE, 0xE000}
	tagItemDelimiter     = Tag{0xFFFE, 0xE00D}
	tagSequenceDelimiter = Tag{0xFFFE, 0xE0DD}
)

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Element represents a DICOM data element
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	element := &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
	d.Elements[tag] = element
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			// Split by backslash for multiple values
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// GetSequence returns the items of a sequence element, or nil if the tag
// is absent or not a sequence.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	if element, exists := d.Elements[tag]; exists {
		if items, ok := element.Value.([]*Dataset); ok {
			return items
		}
	}
	return nil
}

// SetString replaces the value of a tag, adding the element if missing.
// The VR is taken from the dictionary for new elements.
func (d *Dataset) SetString(tag Tag, value string) {
	if element, exists := d.Elements[tag]; exists {
		element.Value = value
		return
	}
	d.AddElement(tag, determineVR(tag), value)
}

type parseOptions struct {
	explicitVR bool
	byteOrder  binary.ByteOrder
	stopBefore *Tag
}

func (o parseOptions) order() binary.ByteOrder {
	if o.byteOrder == nil {
		return binary.LittleEndian
	}
	return o.byteOrder
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	return parseDataset(data, parseOptions{explicitVR: true})
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return parseDataset(data, parseOptions{explicitVR: false})
	case TransferSyntaxExplicitVRBigEndian:
		return parseDataset(data, parseOptions{explicitVR: true, byteOrder: binary.BigEndian})
	default:
		// Explicit VR Little Endian and everything else that shares its
		// element encoding, including the deflated variant after inflation.
		return parseDataset(data, parseOptions{explicitVR: true})
	}
}

// ParseDatasetUntil parses elements up to (but not including) the given tag.
// Used to read header attributes without loading pixel data.
func ParseDatasetUntil(data []byte, transferSyntaxUID string, stop Tag) (*Dataset, error) {
	opts := parseOptions{
		explicitVR: transferSyntaxUID != TransferSyntaxImplicitVRLittleEndian,
		stopBefore: &stop,
	}
	if transferSyntaxUID == TransferSyntaxExplicitVRBigEndian {
		opts.byteOrder = binary.BigEndian
	}
	return parseDataset(data, opts)
}

func parseDataset(data []byte, opts parseOptions) (*Dataset, error) {
	dataset := NewDataset()
	offset := 0
	for offset < len(data) {
		element, next, err := parseElement(data, offset, opts)
		if err != nil {
			return dataset, err
		}
		if element == nil {
			break
		}
		if opts.stopBefore != nil && element.Tag == *opts.stopBefore {
			break
		}
		dataset.Elements[element.Tag] = element
		offset = next
	}
	return dataset, nil
}

// parseElement reads one element starting at offset. It returns nil when
// there is not enough data left for a complete element header.
func parseElement(data []byte, offset int, opts parseOptions) (*Element, int, error) {
	if offset+8 > len(data) {
		return nil, offset, nil
	}

	bo := opts.order()
	group := bo.Uint16(data[offset : offset+2])
	element := bo.Uint16(data[offset+2 : offset+4])
	tag := Tag{Group: group, Element: element}

	var vr string
	var length uint32
	var valueOffset int

	if opts.explicitVR && tag.Group != 0xFFFE {
		vr = string(data[offset+4 : offset+6])
		if isLongVR(vr) {
			// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4)
			if offset+12 > len(data) {
				return nil, offset, nil
			}
			length = bo.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			// Short VR: Tag (4) + VR (2) + Length (2)
			length = uint32(bo.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}
	} else {
		vr = determineVR(tag)
		length = bo.Uint32(data[offset+4 : offset+8])
		valueOffset = offset + 8
	}

	if vr == VR_SQ || (vr == VR_UN && length == undefinedLength) {
		items, next, err := parseSequenceItems(data, valueOffset, length, opts)
		if err != nil {
			return nil, offset, fmt.Errorf("parsing sequence %s: %w", tag, err)
		}
		return &Element{Tag: tag, VR: VR_SQ, Value: items}, next, nil
	}

	if length == undefinedLength {
		return nil, offset, fmt.Errorf("undefined length on non-sequence element %s", tag)
	}
	if valueOffset+int(length) > len(data) {
		return nil, offset, nil
	}

	valueData := data[valueOffset : valueOffset+int(length)]
	value := parseElementValue(vr, valueData, bo)

	next := valueOffset + int(length)
	if length%2 == 1 {
		next++
	}
	return &Element{Tag: tag, VR: vr, Length: length, Value: value}, next, nil
}

// parseSequenceItems reads the items of an SQ element. length is either a
// defined byte count or undefinedLength, in which case the sequence runs
// until a sequence delimitation item.
func parseSequenceItems(data []byte, offset int, length uint32, opts parseOptions) ([]*Dataset, int, error) {
	var items []*Dataset

	end := len(data)
	if length != undefinedLength {
		end = offset + int(length)
		if end > len(data) {
			return nil, offset, fmt.Errorf("sequence length %d exceeds remaining data", length)
		}
	}

	bo := opts.order()
	for offset+8 <= end {
		group := bo.Uint16(data[offset : offset+2])
		element := bo.Uint16(data[offset+2 : offset+4])
		itemLength := bo.Uint32(data[offset+4 : offset+8])
		itemTag := Tag{Group: group, Element: element}
		offset += 8

		switch itemTag {
		case tagSequenceDelimiter:
			return items, offset, nil
		case tagItem:
			item, next, err := parseItem(data, offset, itemLength, opts)
			if err != nil {
				return nil, offset, err
			}
			items = append(items, item)
			offset = next
		default:
			return nil, offset, fmt.Errorf("unexpected tag %s inside sequence", itemTag)
		}
	}

	if length == undefinedLength {
		return nil, offset, fmt.Errorf("sequence missing delimitation item")
	}
	return items, end, nil
}

func parseItem(data []byte, offset int, length uint32, opts parseOptions) (*Dataset, int, error) {
	item := NewDataset()

	end := len(data)
	if length != undefinedLength {
		end = offset + int(length)
		if end > len(data) {
			return nil, offset, fmt.Errorf("item length %d exceeds remaining data", length)
		}
	}

	bo := opts.order()
	for offset+8 <= end {
		group := bo.Uint16(data[offset : offset+2])
		element := bo.Uint16(data[offset+2 : offset+4])
		if (Tag{group, element}) == tagItemDelimiter {
			return item, offset + 8, nil
		}

		el, next, err := parseElement(data[:end], offset, opts)
		if err != nil {
			return nil, offset, err
		}
		if el == nil {
			break
		}
		item.Elements[el.Tag] = el
		offset = next
	}

	if length == undefinedLength {
		return nil, offset, fmt.Errorf("item missing delimitation item")
	}
	return item, end, nil
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OW, VR_OV, VR_SQ, VR_UC, VR_UR, VR_UT, VR_UN, VR_SV, VR_UV:
		return true
	}
	return false
}

// isTextVR reports whether the VR holds character data. Text values are
// decoded to Go strings; every other VR keeps its raw value bytes so
// binary attribute values survive a parse and re-encode round trip.
func isTextVR(vr string) bool {
	switch vr {
	case VR_AE, VR_AS, VR_CS, VR_DA, VR_DS, VR_DT, VR_IS, VR_LO, VR_LT,
		VR_PN, VR_SH, VR_ST, VR_TM, VR_UC, VR_UI, VR_UR, VR_UT:
		return true
	}
	return false
}

// binaryWordSize returns the fixed word width of a binary VR in bytes.
// OB and UN values are plain bytes with no byte order of their own.
func binaryWordSize(vr string) int {
	switch vr {
	case VR_US, VR_SS, VR_OW, VR_AT:
		return 2
	case VR_UL, VR_SL, VR_FL, VR_OF, VR_OL:
		return 4
	case VR_FD, VR_OD, VR_SV, VR_UV, VR_OV:
		return 8
	}
	return 1
}

// swapWords reverses the byte order of each fixed-width word in data.
// Data whose length is not a word multiple is returned unchanged.
func swapWords(data []byte, width int) []byte {
	if width == 1 || len(data)%width != 0 {
		return data
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += width {
		for j := 0; j < width; j++ {
			out[i+j] = data[i+width-1-j]
		}
	}
	return out
}

// parseElementValue decodes the value of one element. Text VRs become
// trimmed strings with null padding stripped; binary VRs keep their raw
// bytes, normalized to little endian word order.
func parseElementValue(vr string, data []byte, bo binary.ByteOrder) interface{} {
	if !isTextVR(vr) {
		raw := make([]byte, len(data))
		copy(raw, data)
		if bo == binary.ByteOrder(binary.BigEndian) {
			raw = swapWords(raw, binaryWordSize(vr))
		}
		return raw
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// determineVR determines the VR based on the tag (simplified mapping)
func determineVR(tag Tag) string {
	// Dictionary limited to the attributes this node reads and writes.
	switch tag {
	case TagFileMetaGroupLength:
		return VR_UL
	case TagMediaStorageSOPClassUID, TagMediaStorageSOPInstance,
		TagTransferSyntaxUID, TagImplementationClassUID:
		return VR_UI
	case TagImplementationVersionName:
		return VR_SH
	case TagSourceApplicationEntity:
		return VR_AE
	case TagSpecificCharacterSet:
		return VR_CS
	case TagSOPClassUID, TagSOPInstanceUID:
		return VR_UI
	case Tag{0x0008, 0x0020}: // Study Date
		return VR_DA
	case Tag{0x0008, 0x0030}: // Study Time
		return VR_TM
	case Tag{0x0008, 0x0050}: // Accession Number
		return VR_SH
	case TagModality:
		return VR_CS
	case Tag{0x0008, 0x0080}: // Institution Name
		return VR_LO
	case Tag{0x0008, 0x0090}: // Referring Physician's Name
		return VR_PN
	case TagStudyDescription, TagSeriesDescription:
		return VR_LO
	case TagReferencedSOPClass, TagReferencedSOPInstance:
		return VR_UI
	case TagPatientName:
		return VR_PN
	case TagPatientID:
		return VR_LO
	case Tag{0x0010, 0x0030}: // Patient's Birth Date
		return VR_DA
	case Tag{0x0010, 0x0040}: // Patient's Sex
		return VR_CS
	case TagStudyInstanceUID, TagSeriesInstanceUID, TagFrameOfReferenceUID:
		return VR_UI
	case Tag{0x0020, 0x0010}: // Study ID
		return VR_SH
	case Tag{0x0020, 0x0011}: // Series Number
		return VR_IS
	case Tag{0x0020, 0x0013}: // Instance Number
		return VR_IS
	case TagRTPlanLabel:
		return VR_SH
	case Tag{0x300A, 0x0003}: // RT Plan Name
		return VR_LO
	case TagReferencedRTPlanSequence:
		return VR_SQ
	case Tag{0x300C, 0x0060}: // Referenced Structure Set Sequence
		return VR_SQ
	case TagPixelData:
		return VR_OW
	default:
		return VR_UN // Unknown
	}
}

func sortedTags(elements map[Tag]*Element) []Tag {
	tags := make([]Tag, 0, len(elements))
	for tag := range elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})
	return tags
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	return encodeExplicitVRDataset(d, binary.LittleEndian)
}

func encodeExplicitVRDataset(dataset *Dataset, bo binary.ByteOrder) []byte {
	var result []byte
	for _, tag := range sortedTags(dataset.Elements) {
		result = appendExplicitElement(result, dataset.Elements[tag], bo)
	}
	return result
}

func appendExplicitElement(result []byte, element *Element, bo binary.ByteOrder) []byte {
	tagBytes := make([]byte, 4)
	bo.PutUint16(tagBytes[0:2], element.Tag.Group)
	bo.PutUint16(tagBytes[2:4], element.Tag.Element)
	result = append(result, tagBytes...)

	vr := element.VR
	if len(vr) != 2 {
		vr = VR_UN
	}
	result = append(result, vr...)

	if items, ok := element.Value.([]*Dataset); ok {
		body := encodeSequenceItems(items, true, bo)
		result = append(result, 0x00, 0x00)
		lengthBytes := make([]byte, 4)
		bo.PutUint32(lengthBytes, uint32(len(body)))
		result = append(result, lengthBytes...)
		return append(result, body...)
	}

	valueBytes := encodeElementValue(element, bo)
	if len(valueBytes)%2 == 1 {
		valueBytes = append(valueBytes, paddingByte(element.VR))
	}

	if isLongVR(vr) {
		// Long VR format: VR (2 bytes) + Reserved (2 bytes) + Length (4 bytes)
		result = append(result, 0x00, 0x00)
		lengthBytes := make([]byte, 4)
		bo.PutUint32(lengthBytes, uint32(len(valueBytes)))
		result = append(result, lengthBytes...)
	} else {
		if len(valueBytes) > 65535 {
			valueBytes = valueBytes[:65534]
		}
		lengthBytes := make([]byte, 2)
		bo.PutUint16(lengthBytes, uint16(len(valueBytes)))
		result = append(result, lengthBytes...)
	}

	return append(result, valueBytes...)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeImplicitVRDataset(dataset), nil
	case TransferSyntaxExplicitVRBigEndian:
		return encodeExplicitVRDataset(dataset, binary.BigEndian), nil
	default:
		return encodeExplicitVRDataset(dataset, binary.LittleEndian), nil
	}
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte
	for _, tag := range sortedTags(dataset.Elements) {
		result = appendImplicitDatasetElement(result, dataset.Elements[tag])
	}
	return result
}

func appendImplicitDatasetElement(result []byte, element *Element) []byte {
	tagBytes := make([]byte, 4)
	binary.LittleEndian.PutUint16(tagBytes[0:2], element.Tag.Group)
	binary.LittleEndian.PutUint16(tagBytes[2:4], element.Tag.Element)
	result = append(result, tagBytes...)

	var valueBytes []byte
	if items, ok := element.Value.([]*Dataset); ok {
		valueBytes = encodeSequenceItems(items, false, binary.LittleEndian)
	} else {
		valueBytes = encodeElementValue(element, binary.LittleEndian)
		if len(valueBytes)%2 == 1 {
			valueBytes = append(valueBytes, paddingByte(element.VR))
		}
	}

	lengthBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
	result = append(result, lengthBytes...)
	return append(result, valueBytes...)
}

// encodeSequenceItems encodes sequence items with defined lengths.
func encodeSequenceItems(items []*Dataset, explicitVR bool, bo binary.ByteOrder) []byte {
	var result []byte
	for _, item := range items {
		var body []byte
		for _, tag := range sortedTags(item.Elements) {
			if explicitVR {
				body = appendExplicitElement(body, item.Elements[tag], bo)
			} else {
				body = appendImplicitDatasetElement(body, item.Elements[tag])
			}
		}
		header := make([]byte, 8)
		bo.PutUint16(header[0:2], tagItem.Group)
		bo.PutUint16(header[2:4], tagItem.Element)
		bo.PutUint32(header[4:8], uint32(len(body)))
		result = append(result, header...)
		result = append(result, body...)
	}
	return result
}

// paddingByte returns the byte used to pad odd-length values. UI values are
// null padded, text values space padded.
func paddingByte(vr string) byte {
	switch vr {
	case VR_UI, VR_OB, VR_OW, VR_UN:
		return 0x00
	default:
		return 0x20
	}
}

// encodeElementValue encodes an element value to bytes. Raw binary values
// are held in little endian word order and swapped on big endian output.
func encodeElementValue(element *Element, bo binary.ByteOrder) []byte {
	switch v := element.Value.(type) {
	case string:
		value := strings.TrimRight(v, "\x00")
		return []byte(value)
	case []string:
		joined := strings.Join(v, "\\")
		joined = strings.TrimRight(joined, "\x00")
		return []byte(joined)
	case []byte:
		if bo == binary.ByteOrder(binary.BigEndian) {
			return swapWords(v, binaryWordSize(element.VR))
		}
		return v
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		result := make([]byte, 2)
		bo.PutUint16(result, v)
		return result
	case uint32:
		result := make([]byte, 4)
		bo.PutUint32(result, v)
		return result
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
