package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	// Uses implicit VR encoding with little endian byte ordering
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	// Recommended for general use due to explicit data types
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	// Still emitted by some legacy treatment planning systems
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - Deflate compression with explicit VR
	// Uses zlib/deflate compression on top of explicit VR encoding
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Encapsulated Transfer Syntaxes that peers commonly propose. This node does
// not transcode; these are listed so negotiation results can be reported by
// name rather than raw UID.
const (
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"
	JPEGLossless     = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1  = "1.2.840.10008.1.2.4.70"
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"
	RLELossless      = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:          uid,
			Name:         "Unknown",
			IsCompressed: false,
			IsLossless:   true,
		}
	}
	return &info
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	info := GetTransferSyntaxInfo(uid)
	return info.IsCompressed
}

// IsUncompressedTransferSyntax returns true for the plain little/big endian
// encodings this node can parse directly.
func IsUncompressedTransferSyntax(uid string) bool {
	switch uid {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian, ExplicitVRBigEndian:
		return true
	}
	return false
}

// transferSyntaxRegistry maps transfer syntax UIDs to their information
var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:          ImplicitVRLittleEndian,
		Name:         "Implicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRLittleEndian: {
		UID:          ExplicitVRLittleEndian,
		Name:         "Explicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRBigEndian: {
		UID:          ExplicitVRBigEndian,
		Name:         "Explicit VR Big Endian",
		IsCompressed: false,
		IsLossless:   true,
		IsRetired:    true,
	},
	DeflatedExplicitVRLittleEndian: {
		UID:          DeflatedExplicitVRLittleEndian,
		Name:         "Deflated Explicit VR Little Endian",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGBaseline8Bit: {
		UID:          JPEGBaseline8Bit,
		Name:         "JPEG Baseline (Process 1)",
		IsCompressed: true,
		IsLossless:   false,
	},
	JPEGLossless: {
		UID:          JPEGLossless,
		Name:         "JPEG Lossless (Process 14)",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGLosslessSV1: {
		UID:          JPEGLosslessSV1,
		Name:         "JPEG Lossless SV1",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000Lossless: {
		UID:          JPEG2000Lossless,
		Name:         "JPEG 2000 Lossless Only",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000: {
		UID:          JPEG2000,
		Name:         "JPEG 2000",
		IsCompressed: true,
		IsLossless:   false,
	},
	RLELossless: {
		UID:          RLELossless,
		Name:         "RLE Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
}

// AcceptedTransferSyntaxes returns the transfer syntaxes the Store SCP
// accepts, in preference order.
func AcceptedTransferSyntaxes() []string {
	return []string{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		DeflatedExplicitVRLittleEndian,
		ExplicitVRBigEndian,
	}
}

// ProposedTransferSyntaxes returns the transfer syntaxes the send engine
// proposes when opening an outbound association.
func ProposedTransferSyntaxes() []string {
	return []string{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
	}
}
