package types

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// DICOM SOP Class UIDs as defined in DICOM Part 4, Annex B
// https://dicom.nema.org/medical/dicom/current/output/chtml/part04/sect_B.5.html

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service - Image Storage SOP Classes
const (
	// Computed Tomography
	CTImageStorage                        = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                = "1.2.840.10008.5.1.4.1.1.2.1"
	LegacyConvertedEnhancedCTImageStorage = "1.2.840.10008.5.1.4.1.1.2.2"

	// Magnetic Resonance
	MRImageStorage                        = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                = "1.2.840.10008.5.1.4.1.1.4.1"
	MRSpectroscopyStorage                 = "1.2.840.10008.5.1.4.1.1.4.2"
	EnhancedMRColorImageStorage           = "1.2.840.10008.5.1.4.1.1.4.3"
	LegacyConvertedEnhancedMRImageStorage = "1.2.840.10008.5.1.4.1.1.4.4"

	// Secondary Capture
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"

	// Positron Emission Tomography
	PETImageStorage         = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage = "1.2.840.10008.5.1.4.1.1.130"

	// Spatial Registration
	SpatialRegistrationStorage           = "1.2.840.10008.5.1.4.1.1.66.1"
	DeformableSpatialRegistrationStorage = "1.2.840.10008.5.1.4.1.1.66.3"

	// Structured Reports
	BasicTextSRStorage = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage  = "1.2.840.10008.5.1.4.1.1.88.22"
)

// Storage Service - RT (Radiation Therapy) SOP Classes
const (
	RTImageStorage                   = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                    = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage            = "1.2.840.10008.5.1.4.1.1.481.3"
	RTBeamsTreatmentRecordStorage    = "1.2.840.10008.5.1.4.1.1.481.4"
	RTPlanStorage                    = "1.2.840.10008.5.1.4.1.1.481.5"
	RTBrachyTreatmentRecordStorage   = "1.2.840.10008.5.1.4.1.1.481.6"
	RTTreatmentSummaryRecordStorage  = "1.2.840.10008.5.1.4.1.1.481.7"
	RTIonPlanStorage                 = "1.2.840.10008.5.1.4.1.1.481.8"
	RTIonBeamsTreatmentRecordStorage = "1.2.840.10008.5.1.4.1.1.481.9"

	// Vendor-private RT Plan used by some treatment planning systems.
	// Accepted on receive; rewritten to RTPlanStorage at send time when the
	// peer only supports the standard UID.
	PrivateRTPlanStorage = "1.2.246.352.70.1.70"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: "Unknown",
		}
	}
	return &info
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	info := GetSOPClassInfo(uid)
	return info.Category == "Storage"
}

// StorageSOPClasses returns the storage SOP classes this node negotiates,
// in a stable order suitable for building presentation contexts.
func StorageSOPClasses() []string {
	return []string{
		CTImageStorage,
		EnhancedCTImageStorage,
		MRImageStorage,
		EnhancedMRImageStorage,
		EnhancedMRColorImageStorage,
		PETImageStorage,
		SecondaryCaptureImageStorage,
		SpatialRegistrationStorage,
		DeformableSpatialRegistrationStorage,
		RTImageStorage,
		RTDoseStorage,
		RTStructureSetStorage,
		RTBeamsTreatmentRecordStorage,
		RTPlanStorage,
		RTBrachyTreatmentRecordStorage,
		RTTreatmentSummaryRecordStorage,
		RTIonPlanStorage,
		RTIonBeamsTreatmentRecordStorage,
		PrivateRTPlanStorage,
	}
}

// sopClassRegistry maps SOP Class UIDs to their information
var sopClassRegistry = map[string]SOPClassInfo{
	// Verification
	VerificationSOPClass: {
		UID:      VerificationSOPClass,
		Name:     "Verification SOP Class",
		Category: "Verification",
	},

	// CT
	CTImageStorage: {
		UID:      CTImageStorage,
		Name:     "CT Image Storage",
		Category: "Storage",
	},
	EnhancedCTImageStorage: {
		UID:      EnhancedCTImageStorage,
		Name:     "Enhanced CT Image Storage",
		Category: "Storage",
	},
	LegacyConvertedEnhancedCTImageStorage: {
		UID:      LegacyConvertedEnhancedCTImageStorage,
		Name:     "Legacy Converted Enhanced CT Image Storage",
		Category: "Storage",
	},

	// MR
	MRImageStorage: {
		UID:      MRImageStorage,
		Name:     "MR Image Storage",
		Category: "Storage",
	},
	EnhancedMRImageStorage: {
		UID:      EnhancedMRImageStorage,
		Name:     "Enhanced MR Image Storage",
		Category: "Storage",
	},
	MRSpectroscopyStorage: {
		UID:      MRSpectroscopyStorage,
		Name:     "MR Spectroscopy Storage",
		Category: "Storage",
	},
	EnhancedMRColorImageStorage: {
		UID:      EnhancedMRColorImageStorage,
		Name:     "Enhanced MR Color Image Storage",
		Category: "Storage",
	},
	LegacyConvertedEnhancedMRImageStorage: {
		UID:      LegacyConvertedEnhancedMRImageStorage,
		Name:     "Legacy Converted Enhanced MR Image Storage",
		Category: "Storage",
	},

	// Secondary Capture
	SecondaryCaptureImageStorage: {
		UID:      SecondaryCaptureImageStorage,
		Name:     "Secondary Capture Image Storage",
		Category: "Storage",
	},

	// PET
	PETImageStorage: {
		UID:      PETImageStorage,
		Name:     "PET Image Storage",
		Category: "Storage",
	},
	EnhancedPETImageStorage: {
		UID:      EnhancedPETImageStorage,
		Name:     "Enhanced PET Image Storage",
		Category: "Storage",
	},

	// Spatial Registration
	SpatialRegistrationStorage: {
		UID:      SpatialRegistrationStorage,
		Name:     "Spatial Registration Storage",
		Category: "Storage",
	},
	DeformableSpatialRegistrationStorage: {
		UID:      DeformableSpatialRegistrationStorage,
		Name:     "Deformable Spatial Registration Storage",
		Category: "Storage",
	},

	// Structured Reports
	BasicTextSRStorage: {
		UID:      BasicTextSRStorage,
		Name:     "Basic Text SR Storage",
		Category: "Storage",
	},
	EnhancedSRStorage: {
		UID:      EnhancedSRStorage,
		Name:     "Enhanced SR Storage",
		Category: "Storage",
	},

	// RT
	RTImageStorage: {
		UID:      RTImageStorage,
		Name:     "RT Image Storage",
		Category: "Storage",
	},
	RTDoseStorage: {
		UID:      RTDoseStorage,
		Name:     "RT Dose Storage",
		Category: "Storage",
	},
	RTStructureSetStorage: {
		UID:      RTStructureSetStorage,
		Name:     "RT Structure Set Storage",
		Category: "Storage",
	},
	RTBeamsTreatmentRecordStorage: {
		UID:      RTBeamsTreatmentRecordStorage,
		Name:     "RT Beams Treatment Record Storage",
		Category: "Storage",
	},
	RTPlanStorage: {
		UID:      RTPlanStorage,
		Name:     "RT Plan Storage",
		Category: "Storage",
	},
	RTBrachyTreatmentRecordStorage: {
		UID:      RTBrachyTreatmentRecordStorage,
		Name:     "RT Brachy Treatment Record Storage",
		Category: "Storage",
	},
	RTTreatmentSummaryRecordStorage: {
		UID:      RTTreatmentSummaryRecordStorage,
		Name:     "RT Treatment Summary Record Storage",
		Category: "Storage",
	},
	RTIonPlanStorage: {
		UID:      RTIonPlanStorage,
		Name:     "RT Ion Plan Storage",
		Category: "Storage",
	},
	RTIonBeamsTreatmentRecordStorage: {
		UID:      RTIonBeamsTreatmentRecordStorage,
		Name:     "RT Ion Beams Treatment Record Storage",
		Category: "Storage",
	},
	PrivateRTPlanStorage: {
		UID:      PrivateRTPlanStorage,
		Name:     "Private RT Plan Storage",
		Category: "Storage",
	},
}
