package types

// Implementation identity sent in the user information item of association
// requests and accepts (DICOM PS3.7 Annex D.3.3.2).
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.10.1457.1"
	ImplementationVersionName = "FOLLOW_1_0"
)
