package pdu

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/dicomrt/follow/types"
)

// MockConn is a mock implementation of net.Conn for testing
type MockConn struct {
	net.Conn
	RemoteAddrFunc func() net.Addr
	CloseFunc      func() error
}

func (m *MockConn) RemoteAddr() net.Addr {
	if m.RemoteAddrFunc != nil {
		return m.RemoteAddrFunc()
	}
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11112}
}

func (m *MockConn) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockDIMSEHandler is a mock implementation of DIMSEHandler for testing
type MockDIMSEHandler struct {
	HandleDIMSEMessageFunc func(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer *Layer) error
}

func (m *MockDIMSEHandler) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer *Layer) error {
	if m.HandleDIMSEMessageFunc != nil {
		return m.HandleDIMSEMessageFunc(presContextID, msgCtrlHeader, data, pduLayer)
	}
	return nil
}

func TestNewLayer(t *testing.T) {
	mockConn := &MockConn{}
	mockHandler := &MockDIMSEHandler{}
	aeTitle := "TEST_AE"

	layer := NewLayer(mockConn, mockHandler, aeTitle, nil)

	if layer == nil {
		t.Fatal("Expected non-nil layer")
	}

	if layer.conn != mockConn {
		t.Error("Layer conn not set correctly")
	}

	if layer.dimseHandler != mockHandler {
		t.Error("Layer dimseHandler not set correctly")
	}

	if layer.serverAETitle != aeTitle {
		t.Errorf("Layer serverAETitle = %s, want %s", layer.serverAETitle, aeTitle)
	}
}

func TestPDUTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant byte
		expected byte
	}{
		{"Associate-RQ", TypeAssociateRQ, 0x01},
		{"Associate-AC", TypeAssociateAC, 0x02},
		{"Associate-RJ", TypeAssociateRJ, 0x03},
		{"P-DATA-TF", TypePDataTF, 0x04},
		{"Release-RQ", TypeReleaseRQ, 0x05},
		{"Release-RP", TypeReleaseRP, 0x06},
		{"Abort", TypeAbort, 0x07},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = 0x%02x, want 0x%02x", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestSupportsAbstractSyntax(t *testing.T) {
	tests := []struct {
		name     string
		uid      string
		expected bool
	}{
		{"Verification", types.VerificationSOPClass, true},
		{"CT Image Storage", types.CTImageStorage, true},
		{"RT Plan Storage", types.RTPlanStorage, true},
		{"RT Dose Storage", types.RTDoseStorage, true},
		{"RT Structure Set Storage", types.RTStructureSetStorage, true},
		{"RT Ion Plan Storage", types.RTIonPlanStorage, true},
		{"Vendor private RT Plan", types.PrivateRTPlanStorage, true},
		{"Spatial Registration", types.SpatialRegistrationStorage, true},
		{"Study Root Q/R FIND", "1.2.840.10008.5.1.4.1.2.2.1", false},
		{"Unknown UID", "1.2.3.4.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := supportsAbstractSyntax(tt.uid); got != tt.expected {
				t.Errorf("supportsAbstractSyntax(%q) = %v, want %v", tt.uid, got, tt.expected)
			}
		})
	}
}

func TestSupportsTransferSyntax(t *testing.T) {
	tests := []struct {
		name     string
		uid      string
		expected bool
	}{
		{"Implicit VR LE", types.ImplicitVRLittleEndian, true},
		{"Explicit VR LE", types.ExplicitVRLittleEndian, true},
		{"Deflated Explicit VR LE", types.DeflatedExplicitVRLittleEndian, true},
		{"Explicit VR BE", types.ExplicitVRBigEndian, true},
		{"JPEG Baseline", types.JPEGBaseline8Bit, false},
		{"RLE Lossless", types.RLELossless, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := supportsTransferSyntax(tt.uid); got != tt.expected {
				t.Errorf("supportsTransferSyntax(%q) = %v, want %v", tt.uid, got, tt.expected)
			}
		})
	}
}

func buildPresentationContextItem(ctxID byte, abstractSyntax string, transferSyntaxes []string) []byte {
	var data []byte
	data = append(data, ctxID, 0x00, 0x00, 0x00)

	abstractItem := []byte{0x30, 0x00}
	absLen := make([]byte, 2)
	binary.BigEndian.PutUint16(absLen, uint16(len(abstractSyntax)))
	abstractItem = append(abstractItem, absLen...)
	abstractItem = append(abstractItem, []byte(abstractSyntax)...)
	data = append(data, abstractItem...)

	for _, ts := range transferSyntaxes {
		tsItem := []byte{0x40, 0x00}
		tsLen := make([]byte, 2)
		binary.BigEndian.PutUint16(tsLen, uint16(len(ts)))
		tsItem = append(tsItem, tsLen...)
		tsItem = append(tsItem, []byte(ts)...)
		data = append(data, tsItem...)
	}

	return data
}

func TestParsePresentationContext(t *testing.T) {
	t.Run("accepted RT Plan context picks first supported syntax", func(t *testing.T) {
		data := buildPresentationContextItem(1, types.RTPlanStorage,
			[]string{types.JPEGBaseline8Bit, types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian})

		ctx, err := parsePresentationContext(data, nil)
		if err != nil {
			t.Fatalf("parsePresentationContext() error = %v", err)
		}
		if ctx.Result != presentationResultAcceptance {
			t.Errorf("Result = %d, want acceptance", ctx.Result)
		}
		if ctx.TransferSyntax != types.ExplicitVRLittleEndian {
			t.Errorf("TransferSyntax = %q, want %q", ctx.TransferSyntax, types.ExplicitVRLittleEndian)
		}
		if ctx.AbstractSyntax != types.RTPlanStorage {
			t.Errorf("AbstractSyntax = %q, want %q", ctx.AbstractSyntax, types.RTPlanStorage)
		}
	})

	t.Run("unsupported abstract syntax rejected", func(t *testing.T) {
		data := buildPresentationContextItem(3, "1.2.840.10008.5.1.4.1.2.2.1",
			[]string{types.ImplicitVRLittleEndian})

		ctx, err := parsePresentationContext(data, nil)
		if err != nil {
			t.Fatalf("parsePresentationContext() error = %v", err)
		}
		if ctx.Result != presentationResultRejectAbstractSyntax {
			t.Errorf("Result = %d, want abstract syntax rejection", ctx.Result)
		}
	})

	t.Run("no supported transfer syntax rejected", func(t *testing.T) {
		data := buildPresentationContextItem(5, types.CTImageStorage,
			[]string{types.JPEG2000, types.RLELossless})

		ctx, err := parsePresentationContext(data, nil)
		if err != nil {
			t.Fatalf("parsePresentationContext() error = %v", err)
		}
		if ctx.Result != presentationResultRejectTransferSyntax {
			t.Errorf("Result = %d, want transfer syntax rejection", ctx.Result)
		}
		if ctx.TransferSyntax != "" {
			t.Errorf("TransferSyntax = %q, want empty", ctx.TransferSyntax)
		}
	})

	t.Run("too short data errors", func(t *testing.T) {
		if _, err := parsePresentationContext([]byte{0x01}, nil); err == nil {
			t.Error("Expected error for truncated presentation context")
		}
	})
}

func TestLayer_AETitleAccessors(t *testing.T) {
	layer := NewLayer(&MockConn{}, &MockDIMSEHandler{}, "FOLLOW", nil)

	// Before the association phase the server title is all we know
	if got := layer.CalledAETitle(); got != "FOLLOW" {
		t.Errorf("CalledAETitle() = %q, want %q", got, "FOLLOW")
	}
	if got := layer.CallingAETitle(); got != "" {
		t.Errorf("CallingAETitle() = %q, want empty", got)
	}

	layer.associationCtx = &AssociationContext{
		CalledAETitle:    "FOLLOW",
		CallingAETitle:   "ARIA",
		MaxPDULength:     16384,
		PresentationCtxs: make(map[byte]*PresentationContext),
	}

	if got := layer.CallingAETitle(); got != "ARIA" {
		t.Errorf("CallingAETitle() = %q, want %q", got, "ARIA")
	}
	if got := layer.CalledAETitle(); got != "FOLLOW" {
		t.Errorf("CalledAETitle() = %q, want %q", got, "FOLLOW")
	}
}

func TestLayer_GetTransferSyntax(t *testing.T) {
	layer := NewLayer(&MockConn{}, &MockDIMSEHandler{}, "FOLLOW", nil)

	if _, err := layer.GetTransferSyntax(1); err == nil {
		t.Error("Expected error before association is established")
	}

	layer.associationCtx = &AssociationContext{
		PresentationCtxs: map[byte]*PresentationContext{
			1: {
				ID:             1,
				Result:         presentationResultAcceptance,
				AbstractSyntax: types.RTDoseStorage,
				TransferSyntax: types.ImplicitVRLittleEndian,
			},
			3: {
				ID:             3,
				Result:         presentationResultRejectTransferSyntax,
				AbstractSyntax: types.CTImageStorage,
			},
		},
	}

	ts, err := layer.GetTransferSyntax(1)
	if err != nil {
		t.Fatalf("GetTransferSyntax(1) error = %v", err)
	}
	if ts != types.ImplicitVRLittleEndian {
		t.Errorf("GetTransferSyntax(1) = %q, want %q", ts, types.ImplicitVRLittleEndian)
	}

	if _, err := layer.GetTransferSyntax(3); err == nil {
		t.Error("Expected error for rejected context")
	}
	if _, err := layer.GetTransferSyntax(9); err == nil {
		t.Error("Expected error for unknown context")
	}
}

func TestParseAssociationRequest_AETitles(t *testing.T) {
	layer := NewLayer(&MockConn{}, &MockDIMSEHandler{}, "FOLLOW", nil)
	layer.associationCtx = &AssociationContext{
		CalledAETitle:    "FOLLOW",
		CallingAETitle:   "UNKNOWN",
		MaxPDULength:     16384,
		PresentationCtxs: make(map[byte]*PresentationContext),
	}

	data := make([]byte, 68)
	binary.BigEndian.PutUint16(data[0:2], 0x0001)
	copy(data[4:20], []byte("FOLLOW          "))
	copy(data[20:36], []byte("ARIA            "))

	presCtx := buildPresentationContextItem(1, types.RTPlanStorage, []string{types.ImplicitVRLittleEndian})
	item := []byte{0x20, 0x00}
	itemLen := make([]byte, 2)
	binary.BigEndian.PutUint16(itemLen, uint16(len(presCtx)))
	item = append(item, itemLen...)
	item = append(item, presCtx...)
	data = append(data, item...)

	pdu := &PDU{Type: TypeAssociateRQ, Length: uint32(len(data)), Data: data}
	if err := layer.parseAssociationRequest(pdu); err != nil {
		t.Fatalf("parseAssociationRequest() error = %v", err)
	}

	if layer.associationCtx.CallingAETitle != "ARIA" {
		t.Errorf("CallingAETitle = %q, want %q", layer.associationCtx.CallingAETitle, "ARIA")
	}
	if layer.associationCtx.CalledAETitle != "FOLLOW" {
		t.Errorf("CalledAETitle = %q, want %q", layer.associationCtx.CalledAETitle, "FOLLOW")
	}

	ctx, ok := layer.associationCtx.PresentationCtxs[1]
	if !ok {
		t.Fatal("Presentation context 1 not negotiated")
	}
	if ctx.Result != presentationResultAcceptance {
		t.Errorf("Result = %d, want acceptance", ctx.Result)
	}
}
