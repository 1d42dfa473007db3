// Package buffer collects objects received over one or more associations
// into per-study groups. A group is handed downstream once no new object
// for it arrived within the quiesce window, so multi-file series are
// processed as a unit instead of one file at a time.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dicomrt/follow/dicom"
	"github.com/dicomrt/follow/faildir"
	"github.com/dicomrt/follow/services"
	"github.com/dicomrt/follow/types"
)

// stagingDirName is created under the receive root to hold groups that are
// still accumulating.
const stagingDirName = ".buffer"

// activityEpsilon guards the quiesce check against timer jitter: a group is
// flushed when its idle time is within this margin of the quiesce window.
const activityEpsilon = 100 * time.Millisecond

// Group is a quiesced set of files belonging to one patient and study.
type Group struct {
	PatientID        string
	StudyInstanceUID string

	// SourceAE is the calling AE title of the association that delivered
	// the first object of the group.
	SourceAE string

	// Dir is the staging directory holding Files. The flusher owns it
	// after the hand-off and is expected to clean it up.
	Dir   string
	Files []string
}

// Flusher consumes quiesced groups.
type Flusher interface {
	Flush(group Group)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithQuiesce overrides the quiesce window.
func WithQuiesce(d time.Duration) Option {
	return func(b *Buffer) { b.quiesce = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) { b.logger = logger }
}

// WithEnhancedMRHook registers a callback invoked with the staged file path
// whenever an Enhanced MR object is buffered.
func WithEnhancedMRHook(fn func(path string)) Option {
	return func(b *Buffer) { b.onEnhancedMR = fn }
}

type key struct {
	patientID string
	studyUID  string
}

type bucket struct {
	dir          string
	files        []string
	sourceAE     string
	lastActivity time.Time
	timer        *time.Timer
}

// Buffer implements services.StoreSink. Received objects are staged on disk
// under the receive root and grouped by patient and study.
type Buffer struct {
	root         string
	flusher      Flusher
	quiesce      time.Duration
	logger       *slog.Logger
	onEnhancedMR func(path string)

	mu      sync.Mutex
	buckets map[key]*bucket
	closed  bool
}

// New creates a buffer staging under root and flushing quiesced groups to
// the given flusher.
func New(root string, flusher Flusher, opts ...Option) *Buffer {
	b := &Buffer{
		root:    root,
		flusher: flusher,
		quiesce: 2 * time.Second,
		logger:  slog.Default(),
		buckets: make(map[key]*bucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Receive stages one received object and re-arms the quiesce timer of its
// group. Objects whose dataset cannot be parsed or completed are moved to
// the quarantine directory instead of failing the association.
func (b *Buffer) Receive(ctx context.Context, recv *services.ReceivedObject) error {
	obj, err := dicom.FromDataset(recv.Data, recv.TransferSyntaxUID, recv.SOPClassUID, recv.SOPInstanceUID, recv.CallingAETitle)
	if err != nil {
		return b.quarantineRaw(recv, fmt.Errorf("parsing received dataset: %w", err))
	}

	modality := obj.Dataset.GetString(dicom.TagModality)
	verbatim := modality == "RTDOSE"

	if !verbatim {
		if _, err := dicom.EnsureUIDs(obj); err != nil {
			return b.quarantineRaw(recv, err)
		}
	}

	k := key{
		patientID: obj.Dataset.GetString(dicom.TagPatientID),
		studyUID:  obj.Dataset.GetString(dicom.TagStudyInstanceUID),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("buffer is shut down")
	}
	bkt, err := b.bucketLocked(k, recv.CallingAETitle)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	name := stagedName(modality, obj.Meta.MediaStorageSOPInstanceUID, len(bkt.files))
	path := filepath.Join(bkt.dir, name)

	mode := dicom.WriteReencode
	if verbatim {
		mode = dicom.WriteVerbatimBytes
	}
	if err := dicom.WriteFile(path, obj, mode); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("staging %s: %w", name, err)
	}

	bkt.files = append(bkt.files, path)
	bkt.lastActivity = time.Now()
	b.armTimerLocked(k, bkt, b.quiesce)
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "Buffered object",
		"modality", modality,
		"sop_instance", obj.Meta.MediaStorageSOPInstanceUID,
		"patient_id", k.patientID,
		"study_uid", k.studyUID,
		"calling_ae", recv.CallingAETitle)

	if recv.SOPClassUID == types.EnhancedMRImageStorage && b.onEnhancedMR != nil {
		b.onEnhancedMR(path)
	}
	return nil
}

// bucketLocked finds or creates the bucket for k. Caller holds b.mu.
func (b *Buffer) bucketLocked(k key, sourceAE string) (*bucket, error) {
	if bkt, ok := b.buckets[k]; ok {
		return bkt, nil
	}

	staging := filepath.Join(b.root, stagingDirName)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}
	dir, err := os.MkdirTemp(staging, "group_")
	if err != nil {
		return nil, fmt.Errorf("creating group directory: %w", err)
	}

	bkt := &bucket{dir: dir, sourceAE: sourceAE}
	b.buckets[k] = bkt
	return bkt, nil
}

func (b *Buffer) armTimerLocked(k key, bkt *bucket, d time.Duration) {
	if bkt.timer != nil {
		bkt.timer.Stop()
	}
	bkt.timer = time.AfterFunc(d, func() { b.tryFlush(k) })
}

// tryFlush flushes the bucket for k if it has been quiet for the full
// quiesce window, otherwise re-arms the timer for the remainder.
func (b *Buffer) tryFlush(k key) {
	b.mu.Lock()
	bkt, ok := b.buckets[k]
	if !ok {
		b.mu.Unlock()
		return
	}

	idle := time.Since(bkt.lastActivity)
	if idle < b.quiesce-activityEpsilon {
		b.armTimerLocked(k, bkt, b.quiesce-idle)
		b.mu.Unlock()
		return
	}

	delete(b.buckets, k)
	b.mu.Unlock()

	b.flush(k, bkt)
}

func (b *Buffer) flush(k key, bkt *bucket) {
	b.logger.Info("Flushing group",
		"patient_id", k.patientID,
		"study_uid", k.studyUID,
		"files", len(bkt.files),
		"source_ae", bkt.sourceAE)

	b.flusher.Flush(Group{
		PatientID:        k.patientID,
		StudyInstanceUID: k.studyUID,
		SourceAE:         bkt.sourceAE,
		Dir:              bkt.dir,
		Files:            bkt.files,
	})
}

// Shutdown stops the quiesce timers and flushes every pending group
// synchronously. The buffer rejects further objects afterwards.
func (b *Buffer) Shutdown(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	pending := b.buckets
	b.buckets = make(map[key]*bucket)
	for _, bkt := range pending {
		if bkt.timer != nil {
			bkt.timer.Stop()
		}
	}
	b.mu.Unlock()

	for k, bkt := range pending {
		b.flush(k, bkt)
	}
}

// quarantineRaw writes the raw received bytes to the quarantine directory.
// The store response stays successful so the peer does not retry an object
// this node can never process.
func (b *Buffer) quarantineRaw(recv *services.ReceivedObject, cause error) error {
	name := recv.SOPInstanceUID
	if name == "" {
		name = "unparseable"
	}
	tmp, err := os.CreateTemp("", "recv_*_"+name+".dcm")
	if err != nil {
		return fmt.Errorf("spilling unprocessable object: %w", err)
	}
	if _, err := tmp.Write(recv.Data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	reason := fmt.Sprintf("Error processing received object %s from %s", name, recv.CallingAETitle)
	dest, ferr := faildir.Move(b.root, tmp.Name(), reason, cause)
	if ferr != nil {
		return ferr
	}

	b.logger.Warn("Quarantined unprocessable object",
		"sop_instance", recv.SOPInstanceUID,
		"calling_ae", recv.CallingAETitle,
		"dest", dest,
		"error", cause)
	return nil
}

func stagedName(modality, sopInstanceUID string, ordinal int) string {
	if modality == "" {
		modality = "UN"
	}
	if sopInstanceUID == "" {
		return fmt.Sprintf("%s.%d.dcm", modality, ordinal)
	}
	return fmt.Sprintf("%s.%s.dcm", modality, sopInstanceUID)
}
