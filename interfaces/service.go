// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/dicomrt/follow/types"
)

// MessageContext carries the association-level facts a handler needs about
// an incoming DIMSE message: which presentation context it arrived on, the
// transfer syntax negotiated for that context, and the AE titles of the
// association. The calling AE title identifies the sender for trust checks
// and for SourceApplicationEntityTitle stamping.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	CallingAETitle        string
	CalledAETitle         string
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, mctx *MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error)
}

// DIMSEHandler interface for PDU layer to communicate with DIMSE layer
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer interface for DIMSE layer to communicate with PDU layer
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	CallingAETitle() string
	CalledAETitle() string
}
