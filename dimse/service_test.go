package dimse

import (
	"context"
	"errors"
	"testing"

	"github.com/dicomrt/follow/interfaces"
	"github.com/dicomrt/follow/types"
)

// MockPDULayer is a mock implementation of interfaces.PDULayer for testing
type MockPDULayer struct {
	SendDIMSEResponseFunc            func(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDatasetFunc func(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntaxFunc            func(presContextID byte) (string, error)
	TransferSyntaxUID                string
	CallingAE                        string
	CalledAE                         string
}

func (m *MockPDULayer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	if m.SendDIMSEResponseFunc != nil {
		return m.SendDIMSEResponseFunc(presContextID, commandData)
	}
	return nil
}

func (m *MockPDULayer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	if m.SendDIMSEResponseWithDatasetFunc != nil {
		return m.SendDIMSEResponseWithDatasetFunc(presContextID, commandData, datasetData)
	}
	return nil
}

func (m *MockPDULayer) GetTransferSyntax(presContextID byte) (string, error) {
	if m.GetTransferSyntaxFunc != nil {
		return m.GetTransferSyntaxFunc(presContextID)
	}
	return m.TransferSyntaxUID, nil
}

func (m *MockPDULayer) CallingAETitle() string { return m.CallingAE }
func (m *MockPDULayer) CalledAETitle() string  { return m.CalledAE }

// MockServiceHandler is a mock implementation of ServiceHandler for testing
type MockServiceHandler struct {
	HandleDIMSEFunc func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error)
}

func (m *MockServiceHandler) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	if m.HandleDIMSEFunc != nil {
		return m.HandleDIMSEFunc(ctx, mctx, msg, data)
	}
	// Default response
	return &types.Message{
		CommandField:              types.CEchoRSP,
		Status:                    types.StatusSuccess,
		CommandDataSetType:        0x0101,
		MessageIDBeingRespondedTo: msg.MessageID,
	}, nil, nil
}

func TestNewService(t *testing.T) {
	handler := &MockServiceHandler{}
	service := NewService(handler, nil)

	if service == nil {
		t.Fatal("Expected non-nil service")
	}

	if service.handler == nil {
		t.Error("Service handler not set")
	}
}

func TestService_HandleDIMSEMessage_CEchoNoDataset(t *testing.T) {
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
			if mctx.CallingAETitle != "ARIA" {
				t.Errorf("CallingAETitle = %q, want %q", mctx.CallingAETitle, "ARIA")
			}
			return &types.Message{
				CommandField:              types.CEchoRSP,
				Status:                    types.StatusSuccess,
				CommandDataSetType:        0x0101,
				MessageIDBeingRespondedTo: msg.MessageID,
			}, nil, nil
		},
	}

	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		CallingAE:         "ARIA",
		CalledAE:          "FOLLOW",
		SendDIMSEResponseWithDatasetFunc: func(presContextID byte, commandData []byte, datasetData []byte) error {
			if presContextID != 1 {
				t.Errorf("Expected context ID 1, got %d", presContextID)
			}
			if len(commandData) == 0 {
				t.Error("Expected command data")
			}
			return nil
		},
	}

	// Create C-ECHO request command
	msg := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101, // No dataset
	}
	commandData := service.createDIMSECommand(msg)

	// Send command (last fragment, no dataset)
	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}
}

func TestService_HandleDIMSEMessage_WithDataset(t *testing.T) {
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
			// Verify dataset was received
			if len(data) == 0 {
				t.Error("Expected dataset data")
			}
			if mctx.TransferSyntaxUID != types.ExplicitVRLittleEndian {
				t.Errorf("TransferSyntaxUID = %q, want %q", mctx.TransferSyntaxUID, types.ExplicitVRLittleEndian)
			}
			return &types.Message{
				CommandField:              types.CStoreRSP,
				Status:                    types.StatusSuccess,
				CommandDataSetType:        0x0101,
				MessageIDBeingRespondedTo: msg.MessageID,
			}, nil, nil
		},
	}

	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		SendDIMSEResponseWithDatasetFunc: func(presContextID byte, commandData []byte, datasetData []byte) error {
			if len(commandData) == 0 {
				t.Error("Expected command data in response")
			}
			return nil
		},
	}

	// Create C-STORE request command
	msg := &types.Message{
		CommandField:        types.CStoreRQ,
		MessageID:           2,
		AffectedSOPClassUID: types.CTImageStorage,
		CommandDataSetType:  0x0000, // Has dataset
	}
	commandData := service.createDIMSECommand(msg)

	// Send command (last fragment)
	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	// Send dataset (last fragment)
	datasetData := []byte{0x10, 0x00, 0x10, 0x00, 'P', 'N', 0x08, 0x00, 'D', 'o', 'e', '^', 'J', 'o', 'h', 'n'}
	err = service.HandleDIMSEMessage(1, 0x02, datasetData, pduLayer)
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}
}

func TestService_HandleDIMSEMessage_MultiFragment(t *testing.T) {
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
			// Verify all fragments were received
			if len(data) < 20 {
				t.Errorf("Expected at least 20 bytes of data, got %d", len(data))
			}
			return &types.Message{
				CommandField:              types.CStoreRSP,
				Status:                    types.StatusSuccess,
				CommandDataSetType:        0x0101,
				MessageIDBeingRespondedTo: msg.MessageID,
			}, nil, nil
		},
	}

	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{TransferSyntaxUID: types.ImplicitVRLittleEndian}

	// Create command
	msg := &types.Message{
		CommandField:        types.CStoreRQ,
		MessageID:           3,
		AffectedSOPClassUID: types.CTImageStorage,
		CommandDataSetType:  0x0000,
	}
	commandData := service.createDIMSECommand(msg)

	// Send command (last fragment)
	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	// Send dataset fragments
	fragment1 := []byte{0x10, 0x00, 0x10, 0x00, 0x08, 0x00, 0x00, 0x00, 'F', 'R', 'A', 'G'}
	err = service.HandleDIMSEMessage(1, 0x00, fragment1, pduLayer) // More fragments
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	fragment2 := []byte{'M', 'E', 'N', 'T', '1', '2', '3', '4'}
	err = service.HandleDIMSEMessage(1, 0x02, fragment2, pduLayer) // Last fragment
	if err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}
}

func TestService_HandleDIMSEMessage_ParseError(t *testing.T) {
	handler := &MockServiceHandler{}
	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{}

	// Send invalid command data (too short)
	invalidData := []byte{0x00, 0x01, 0x02}
	err := service.HandleDIMSEMessage(1, 0x03, invalidData, pduLayer)
	if err == nil {
		t.Error("Expected error for invalid command data")
	}
}

func TestService_HandleDIMSEMessage_HandlerError(t *testing.T) {
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
			return nil, nil, errors.New("handler processing failed")
		},
	}

	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{TransferSyntaxUID: types.ImplicitVRLittleEndian}

	// Create valid command
	msg := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           4,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101,
	}
	commandData := service.createDIMSECommand(msg)

	// Send command
	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err == nil {
		t.Error("Expected error from handler")
	}
	if err.Error() != "service handler failed: handler processing failed" {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestService_HandleDIMSEMessage_PDULayerError(t *testing.T) {
	handler := &MockServiceHandler{}
	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		SendDIMSEResponseWithDatasetFunc: func(presContextID byte, commandData []byte, datasetData []byte) error {
			return errors.New("PDU send failed")
		},
	}

	// Create valid command
	msg := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           5,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101,
	}
	commandData := service.createDIMSECommand(msg)

	// Send command
	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err == nil {
		t.Error("Expected PDU layer error")
	}
	if err.Error() != "PDU send failed" {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestEncodeDecodeCommand_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  types.Message
	}{
		{
			name: "C-STORE Request",
			msg: types.Message{
				CommandField:           types.CStoreRQ,
				MessageID:              7,
				Priority:               0x0002,
				CommandDataSetType:     0x0000,
				AffectedSOPClassUID:    types.RTDoseStorage,
				AffectedSOPInstanceUID: "1.2.3.4.5.6.7.8.90",
			},
		},
		{
			name: "C-STORE Response Success",
			msg: types.Message{
				CommandField:              types.CStoreRSP,
				MessageIDBeingRespondedTo: 7,
				CommandDataSetType:        0x0101,
				Status:                    types.StatusSuccess,
				AffectedSOPClassUID:       types.RTDoseStorage,
			},
		},
		{
			name: "C-ECHO Response Refused",
			msg: types.Message{
				CommandField:              types.CEchoRSP,
				MessageIDBeingRespondedTo: 3,
				CommandDataSetType:        0x0101,
				Status:                    types.StatusRefused,
				AffectedSOPClassUID:       types.VerificationSOPClass,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeCommand(&tt.msg)
			if err != nil {
				t.Fatalf("EncodeCommand() error = %v", err)
			}

			parsed, err := DecodeCommand(data)
			if err != nil {
				t.Fatalf("DecodeCommand() error = %v", err)
			}

			if parsed.CommandField != tt.msg.CommandField {
				t.Errorf("CommandField = 0x%04x, want 0x%04x", parsed.CommandField, tt.msg.CommandField)
			}
			if parsed.MessageID != tt.msg.MessageID {
				t.Errorf("MessageID = %d, want %d", parsed.MessageID, tt.msg.MessageID)
			}
			if parsed.MessageIDBeingRespondedTo != tt.msg.MessageIDBeingRespondedTo {
				t.Errorf("MessageIDBeingRespondedTo = %d, want %d",
					parsed.MessageIDBeingRespondedTo, tt.msg.MessageIDBeingRespondedTo)
			}
			if parsed.CommandDataSetType != tt.msg.CommandDataSetType {
				t.Errorf("CommandDataSetType = 0x%04x, want 0x%04x",
					parsed.CommandDataSetType, tt.msg.CommandDataSetType)
			}
			if parsed.Status != tt.msg.Status {
				t.Errorf("Status = 0x%04x, want 0x%04x", parsed.Status, tt.msg.Status)
			}
			if parsed.AffectedSOPClassUID != tt.msg.AffectedSOPClassUID {
				t.Errorf("AffectedSOPClassUID = %q, want %q",
					parsed.AffectedSOPClassUID, tt.msg.AffectedSOPClassUID)
			}
			if parsed.AffectedSOPInstanceUID != tt.msg.AffectedSOPInstanceUID {
				t.Errorf("AffectedSOPInstanceUID = %q, want %q",
					parsed.AffectedSOPInstanceUID, tt.msg.AffectedSOPInstanceUID)
			}
		})
	}
}
