package services

import (
	"testing"

	"github.com/dicomrt/follow/types"
)

func TestResponseBuilder_CEchoResponse(t *testing.T) {
	req := &types.Message{
		CommandField: types.CEchoRQ,
		MessageID:    7,
	}

	resp := NewResponseBuilder(req).CEchoResponse(types.StatusSuccess)

	if resp.CommandField != types.CEchoRSP {
		t.Errorf("CommandField = 0x%04x, want 0x%04x", resp.CommandField, types.CEchoRSP)
	}
	if resp.MessageIDBeingRespondedTo != 7 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 7", resp.MessageIDBeingRespondedTo)
	}
	if resp.AffectedSOPClassUID != types.VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID = %q, want %q", resp.AffectedSOPClassUID, types.VerificationSOPClass)
	}
	if resp.CommandDataSetType != 0x0101 {
		t.Errorf("CommandDataSetType = 0x%04x, want 0x0101", resp.CommandDataSetType)
	}
	if resp.Status != types.StatusSuccess {
		t.Errorf("Status = 0x%04x, want 0x%04x", resp.Status, types.StatusSuccess)
	}
}

func TestResponseBuilder_CStoreResponse(t *testing.T) {
	req := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              9,
		AffectedSOPClassUID:    types.RTDoseStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}

	t.Run("explicit SOP instance UID", func(t *testing.T) {
		resp := NewResponseBuilder(req).CStoreResponse(types.StatusSuccess, "9.8.7.6")
		if resp.AffectedSOPInstanceUID != "9.8.7.6" {
			t.Errorf("AffectedSOPInstanceUID = %q, want %q", resp.AffectedSOPInstanceUID, "9.8.7.6")
		}
		if resp.AffectedSOPClassUID != types.RTDoseStorage {
			t.Errorf("AffectedSOPClassUID = %q, want %q", resp.AffectedSOPClassUID, types.RTDoseStorage)
		}
	})

	t.Run("falls back to request SOP instance UID", func(t *testing.T) {
		resp := NewResponseBuilder(req).CStoreResponse(types.StatusRefused, "")
		if resp.AffectedSOPInstanceUID != "1.2.3.4.5" {
			t.Errorf("AffectedSOPInstanceUID = %q, want %q", resp.AffectedSOPInstanceUID, "1.2.3.4.5")
		}
		if resp.Status != types.StatusRefused {
			t.Errorf("Status = 0x%04x, want 0x%04x", resp.Status, types.StatusRefused)
		}
	})
}

func TestNewCStoreResponse(t *testing.T) {
	req := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              3,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3",
	}

	resp := NewCStoreResponse(req, types.StatusSuccess)

	if resp.CommandField != types.CStoreRSP {
		t.Errorf("CommandField = 0x%04x, want 0x%04x", resp.CommandField, types.CStoreRSP)
	}
	if resp.MessageIDBeingRespondedTo != 3 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 3", resp.MessageIDBeingRespondedTo)
	}
	if resp.AffectedSOPInstanceUID != "1.2.3" {
		t.Errorf("AffectedSOPInstanceUID = %q, want %q", resp.AffectedSOPInstanceUID, "1.2.3")
	}
}
