package services

import (
	"context"
	"log/slog"

	"github.com/dicomrt/follow/interfaces"
	"github.com/dicomrt/follow/types"
)

// ReceivedObject is one stored DICOM object as it arrived on the wire,
// together with the association facts needed to buffer and route it.
type ReceivedObject struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	CallingAETitle    string
	CalledAETitle     string
	// Data holds the dataset bytes exactly as received, without any
	// Part 10 file meta prefix.
	Data []byte
}

// StoreSink consumes received objects. The receive buffer implements this.
type StoreSink interface {
	Receive(ctx context.Context, obj *ReceivedObject) error
}

// StoreService handles C-STORE requests and hands the received objects to
// a sink for buffering and grouping. Objects are accepted from any calling
// AE title; the trust list applies to C-ECHO verification only.
type StoreService struct {
	sink   StoreSink
	logger *slog.Logger
}

// NewStoreService creates a new C-STORE service instance.
func NewStoreService(sink StoreSink, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{
		sink:   sink,
		logger: logger,
	}
}

// HandleDIMSE processes a C-STORE request.
//
// The dataset bytes are handed to the sink unmodified. A sink failure is
// reported to the peer as a refused status rather than dropping the
// association, so the peer can decide whether to retry remaining objects.
func (s *StoreService) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	s.logger.DebugContext(ctx, "Processing C-STORE request",
		"message_id", msg.MessageID,
		"sop_class", msg.AffectedSOPClassUID,
		"sop_instance", msg.AffectedSOPInstanceUID,
		"calling_ae", mctx.CallingAETitle,
		"dataset_size", len(data))

	status := uint16(types.StatusSuccess)

	switch {
	case len(data) == 0:
		s.logger.WarnContext(ctx, "C-STORE with empty dataset",
			"sop_instance", msg.AffectedSOPInstanceUID)
		status = types.StatusRefused
	default:
		obj := &ReceivedObject{
			SOPClassUID:       msg.AffectedSOPClassUID,
			SOPInstanceUID:    msg.AffectedSOPInstanceUID,
			TransferSyntaxUID: mctx.TransferSyntaxUID,
			CallingAETitle:    mctx.CallingAETitle,
			CalledAETitle:     mctx.CalledAETitle,
			Data:              data,
		}
		if err := s.sink.Receive(ctx, obj); err != nil {
			s.logger.ErrorContext(ctx, "Failed to buffer received object",
				"sop_instance", msg.AffectedSOPInstanceUID,
				"error", err)
			status = types.StatusRefused
		}
	}

	response := NewCStoreResponse(msg, status)

	if status == types.StatusSuccess {
		s.logger.InfoContext(ctx, "C-STORE request successful",
			"sop_class", types.GetSOPClassInfo(msg.AffectedSOPClassUID).Name,
			"sop_instance", msg.AffectedSOPInstanceUID,
			"calling_ae", mctx.CallingAETitle)
	}

	return response, nil, nil
}
