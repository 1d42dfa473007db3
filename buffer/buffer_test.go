package buffer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomrt/follow/dicom"
	"github.com/dicomrt/follow/services"
	"github.com/dicomrt/follow/types"
)

type recordingFlusher struct {
	mu     sync.Mutex
	groups []Group
}

func (f *recordingFlusher) Flush(group Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, group)
}

func (f *recordingFlusher) snapshot() []Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Group, len(f.groups))
	copy(out, f.groups)
	return out
}

func (f *recordingFlusher) waitForGroups(t *testing.T, n int, timeout time.Duration) []Group {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if groups := f.snapshot(); len(groups) >= n {
			return groups
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d groups, got %d", n, len(f.snapshot()))
	return nil
}

func encodeDataset(t *testing.T, attrs map[dicom.Tag]string) []byte {
	t.Helper()
	ds := dicom.NewDataset()
	for tag, value := range attrs {
		ds.SetString(tag, value)
	}
	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	require.NoError(t, err)
	return data
}

func receivedObject(t *testing.T, modality, patientID, studyUID, sopInstance string) *services.ReceivedObject {
	t.Helper()
	attrs := map[dicom.Tag]string{
		dicom.TagModality:         modality,
		dicom.TagPatientID:        patientID,
		dicom.TagStudyInstanceUID: studyUID,
	}
	if sopInstance != "" {
		attrs[dicom.TagSOPInstanceUID] = sopInstance
		attrs[dicom.TagSOPClassUID] = types.CTImageStorage
	}
	return &services.ReceivedObject{
		SOPClassUID:       types.CTImageStorage,
		SOPInstanceUID:    sopInstance,
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		CallingAETitle:    "ARIA",
		Data:              encodeDataset(t, attrs),
	}
}

func TestReceive_FlushesAfterQuiesce(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(150*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "1.2.3", "1.2.3.10")))
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "1.2.3", "1.2.3.11")))

	groups := flusher.waitForGroups(t, 1, 2*time.Second)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "PAT1", g.PatientID)
	assert.Equal(t, "1.2.3", g.StudyInstanceUID)
	assert.Equal(t, "ARIA", g.SourceAE)
	assert.Len(t, g.Files, 2)
	for _, f := range g.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err)
		assert.Equal(t, g.Dir, filepath.Dir(f))
	}
}

func TestReceive_SeparatesStudies(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(100*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "1.2.3", "1.2.3.10")))
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT2", "1.2.3", "1.2.3.11")))
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "9.8.7", "9.8.7.10")))

	groups := flusher.waitForGroups(t, 3, 2*time.Second)
	assert.Len(t, groups, 3)

	dirs := make(map[string]bool)
	for _, g := range groups {
		assert.Len(t, g.Files, 1)
		dirs[g.Dir] = true
	}
	assert.Len(t, dirs, 3)
}

func TestReceive_ActivityDefersFlush(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(250*time.Millisecond))

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		sop := "1.2.3." + string(rune('a'+i))
		require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "1.2.3", sop)))
		time.Sleep(100 * time.Millisecond)
		// Still inside the quiesce window, nothing flushed yet
		assert.Empty(t, flusher.snapshot())
	}

	groups := flusher.waitForGroups(t, 1, 2*time.Second)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Files, 4)
}

func TestReceive_DosePayloadWrittenVerbatim(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(100*time.Millisecond))

	datasetBytes := encodeDataset(t, map[dicom.Tag]string{
		dicom.TagModality:         "RTDOSE",
		dicom.TagPatientID:        "PAT1",
		dicom.TagStudyInstanceUID: "1.2.3",
		dicom.TagSOPInstanceUID:   "1.2.3.200",
		dicom.TagSOPClassUID:      types.RTDoseStorage,
	})
	recv := &services.ReceivedObject{
		SOPClassUID:       types.RTDoseStorage,
		SOPInstanceUID:    "1.2.3.200",
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		CallingAETitle:    "ARIA",
		Data:              datasetBytes,
	}
	require.NoError(t, b.Receive(context.Background(), recv))

	groups := flusher.waitForGroups(t, 1, 2*time.Second)
	require.Len(t, groups[0].Files, 1)

	written, err := os.ReadFile(groups[0].Files[0])
	require.NoError(t, err)

	meta, err := dicom.ParseFileMeta(written)
	require.NoError(t, err)
	assert.Equal(t, datasetBytes, written[meta.DatasetOffset:])
	assert.Equal(t, "ARIA", meta.SourceApplicationEntityTitle)
}

func TestReceive_MintsMissingSOPInstanceUID(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(100*time.Millisecond))

	recv := receivedObject(t, "RTPLAN", "PAT1", "1.2.3", "")
	recv.SOPInstanceUID = ""
	require.NoError(t, b.Receive(context.Background(), recv))

	groups := flusher.waitForGroups(t, 1, 2*time.Second)
	require.Len(t, groups[0].Files, 1)

	obj, err := dicom.ReadFile(groups[0].Files[0], true)
	require.NoError(t, err)
	uid := obj.Dataset.GetString(dicom.TagSOPInstanceUID)
	assert.NotEmpty(t, uid)
	assert.Equal(t, uid, obj.Meta.MediaStorageSOPInstanceUID)
}

func TestReceive_UnparseableGoesToQuarantine(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(100*time.Millisecond))

	recv := &services.ReceivedObject{
		SOPClassUID:       types.CTImageStorage,
		SOPInstanceUID:    "1.2.3.999",
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		CallingAETitle:    "ARIA",
		Data:              []byte{0x01, 0x02},
	}
	require.NoError(t, b.Receive(context.Background(), recv))

	entries, err := os.ReadDir(filepath.Join(root, "failed"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, flusher.snapshot())
}

func TestShutdown_DrainsPendingGroups(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}
	b := New(root, flusher, WithQuiesce(time.Hour))

	ctx := context.Background()
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT1", "1.2.3", "1.2.3.10")))
	require.NoError(t, b.Receive(ctx, receivedObject(t, "CT", "PAT2", "4.5.6", "4.5.6.10")))

	b.Shutdown(ctx)
	assert.Len(t, flusher.snapshot(), 2)

	err := b.Receive(ctx, receivedObject(t, "CT", "PAT3", "7.8.9", "7.8.9.10"))
	assert.Error(t, err)
}

func TestReceive_EnhancedMRHook(t *testing.T) {
	root := t.TempDir()
	flusher := &recordingFlusher{}

	var mu sync.Mutex
	var hooked []string
	b := New(root, flusher,
		WithQuiesce(100*time.Millisecond),
		WithEnhancedMRHook(func(path string) {
			mu.Lock()
			hooked = append(hooked, path)
			mu.Unlock()
		}))

	recv := receivedObject(t, "MR", "PAT1", "1.2.3", "1.2.3.50")
	recv.SOPClassUID = types.EnhancedMRImageStorage
	require.NoError(t, b.Receive(context.Background(), recv))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hooked, 1)
	assert.FileExists(t, hooked[0])
}
