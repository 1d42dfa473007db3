package client

import (
	"fmt"
	"log/slog"

	"github.com/dicomrt/follow/dimse"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest = dimse.CStoreRequest

// CStoreResponse represents a C-STORE response
type CStoreResponse = dimse.CStoreResponse

// SendCStore sends a C-STORE request over the association and waits for the
// response. The dataset bytes in req.Data must already be encoded in the
// transfer syntax negotiated for the SOP class's presentation context.
func (a *Association) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	// Find presentation context for this SOP Class
	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, fmt.Errorf("no presentation context for SOP class %s: %w", req.SOPClassUID, err)
	}

	a.logger.Debug("Sending C-STORE-RQ",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data))

	resp, err := dimse.SendCStore(a.conn, presContextID, a.maxPDULength, req)
	if err != nil {
		return nil, err
	}

	if resp.Status != 0x0000 {
		slog.Warn("C-STORE completed with non-success status",
			"sop_instance", req.SOPInstanceUID,
			"status", fmt.Sprintf("0x%04x", resp.Status))
	}

	return resp, nil
}

// sendDIMSEMessage sends a DIMSE message with optional dataset
func (a *Association) sendDIMSEMessage(presContextID byte, commandData []byte, datasetData []byte) error {
	return dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, datasetData)
}
