package dicom

import (
	"bytes"
	"testing"

	"github.com/dicomrt/follow/types"
)

func buildVendorPlanDataset() *Dataset {
	ds := NewDataset()
	ds.AddElement(TagSOPClassUID, VR_UI, types.PrivateRTPlanStorage)
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3.4.5")
	ds.AddElement(TagModality, VR_CS, "RTPLAN")
	ds.AddElement(TagPatientID, VR_LO, "PAT001")
	return ds
}

func TestRewriteVendorSOPClass(t *testing.T) {
	transferSyntaxes := []string{
		types.ImplicitVRLittleEndian,
		types.ExplicitVRLittleEndian,
	}

	for _, ts := range transferSyntaxes {
		t.Run(ts, func(t *testing.T) {
			encoded, err := EncodeDatasetWithTransferSyntax(buildVendorPlanDataset(), ts)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}

			rewritten, changed, err := RewriteVendorSOPClass(encoded, ts)
			if err != nil {
				t.Fatalf("RewriteVendorSOPClass failed: %v", err)
			}
			if !changed {
				t.Fatal("expected vendor SOP class to be rewritten")
			}

			parsed, err := ParseDatasetWithTransferSyntax(rewritten, ts)
			if err != nil {
				t.Fatalf("parsing rewritten dataset failed: %v", err)
			}

			if got := parsed.GetString(TagSOPClassUID); got != types.RTPlanStorage {
				t.Errorf("SOPClassUID = %q, want %q", got, types.RTPlanStorage)
			}
			// Everything after the spliced element must survive untouched
			if got := parsed.GetString(TagSOPInstanceUID); got != "1.2.3.4.5" {
				t.Errorf("SOPInstanceUID = %q, want 1.2.3.4.5", got)
			}
			if got := parsed.GetString(TagPatientID); got != "PAT001" {
				t.Errorf("PatientID = %q, want PAT001", got)
			}

			// Old UID is 19 chars padded to 20, new one 29 padded to 30
			if len(rewritten) != len(encoded)+10 {
				t.Errorf("rewritten length = %d, want %d", len(rewritten), len(encoded)+10)
			}
		})
	}
}

func TestRewriteVendorSOPClass_StandardUIDUntouched(t *testing.T) {
	ds := buildVendorPlanDataset()
	ds.SetString(TagSOPClassUID, types.RTPlanStorage)

	encoded, err := EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	rewritten, changed, err := RewriteVendorSOPClass(encoded, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("RewriteVendorSOPClass failed: %v", err)
	}
	if changed {
		t.Error("standard SOP class should not be rewritten")
	}
	if !bytes.Equal(rewritten, encoded) {
		t.Error("dataset bytes should be unchanged")
	}
}

func TestRewriteVendorSOPClass_NoSOPClassElement(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagPatientID, VR_LO, "PAT001")

	encoded, err := EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	_, changed, err := RewriteVendorSOPClass(encoded, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("RewriteVendorSOPClass failed: %v", err)
	}
	if changed {
		t.Error("dataset without SOPClassUID should not be rewritten")
	}
}
