// Package services provides the DIMSE service implementations behind the
// receive node: C-ECHO verification and C-STORE object reception.
package services

import (
	"context"
	"log/slog"

	"github.com/dicomrt/follow/interfaces"
	"github.com/dicomrt/follow/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO is used to verify connectivity and application-level communication
// between two DICOM Application Entities (AEs). It's the DICOM equivalent
// of a "ping" operation.
//
// When a trust list is configured, echoes from AE titles not on the list are
// answered with a refused status instead of success, so a misconfigured peer
// learns at verification time that it will not be allowed to store.
type EchoService struct {
	trustedAETitles map[string]bool
	logger          *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
//
// trustedAETitles is the set of calling AE titles allowed to verify against
// this node. An empty or nil list trusts every caller.
func NewEchoService(trustedAETitles []string, logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	trusted := make(map[string]bool, len(trustedAETitles))
	for _, ae := range trustedAETitles {
		trusted[ae] = true
	}
	return &EchoService{
		trustedAETitles: trusted,
		logger:          logger,
	}
}

func (s *EchoService) isTrusted(callingAE string) bool {
	if len(s.trustedAETitles) == 0 {
		return true
	}
	return s.trustedAETitles[callingAE]
}

// HandleDIMSE processes a C-ECHO request.
//
// Trusted callers receive a success status. Untrusted callers still receive a
// well-formed C-ECHO-RSP, but with a refused status.
func (s *EchoService) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	s.logger.DebugContext(ctx, "Processing C-ECHO request",
		"message_id", msg.MessageID,
		"calling_ae", mctx.CallingAETitle)

	status := uint16(types.StatusSuccess)
	if !s.isTrusted(mctx.CallingAETitle) {
		s.logger.WarnContext(ctx, "C-ECHO from untrusted AE title",
			"calling_ae", mctx.CallingAETitle)
		status = types.StatusRefused
	}

	// C-ECHO-RSP according to DICOM PS3.7
	response := NewCEchoResponse(msg, status)

	if status == types.StatusSuccess {
		s.logger.InfoContext(ctx, "C-ECHO request successful",
			"message_id", msg.MessageID,
			"calling_ae", mctx.CallingAETitle)
	}

	return response, nil, nil
}

// HealthCheck verifies that the echo service is operational.
//
// Since echo service is stateless with no external dependencies,
// this always returns healthy.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
