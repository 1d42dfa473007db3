// Package sender forwards plan folders to remote DICOM nodes. All files of
// a folder travel over a single association, ordered so geometry arrives
// before the objects referencing it: CT, then RTSTRUCT, RTPLAN, RTDOSE.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dicomrt/follow/client"
	"github.com/dicomrt/follow/config"
	"github.com/dicomrt/follow/dicom"
	dicomerrors "github.com/dicomrt/follow/errors"
	"github.com/dicomrt/follow/faildir"
	"github.com/dicomrt/follow/types"
)

// Counts tallies send results for one modality.
type Counts struct {
	Total   int
	Success int
}

// Summary reports the outcome of one folder send.
type Summary struct {
	PerModality map[string]Counts
	Failed      int
}

// AllSucceeded reports whether every file of the folder was stored.
func (s *Summary) AllSucceeded() bool {
	return s.Failed == 0
}

func (s *Summary) count(modality string, ok bool) {
	c := s.PerModality[modality]
	c.Total++
	if ok {
		c.Success++
	} else {
		s.Failed++
	}
	s.PerModality[modality] = c
}

// String renders the per-modality tallies for logging.
func (s *Summary) String() string {
	modalities := make([]string, 0, len(s.PerModality))
	for m := range s.PerModality {
		modalities = append(modalities, m)
	}
	sort.Strings(modalities)

	parts := make([]string, 0, len(modalities))
	for _, m := range modalities {
		c := s.PerModality[m]
		parts = append(parts, fmt.Sprintf("%s %d/%d", m, c.Success, c.Total))
	}
	return strings.Join(parts, ", ")
}

// SendOptions controls a single folder send.
type SendOptions struct {
	// DeleteAfter removes the source files once every file of the folder
	// was stored successfully. A single failure keeps the whole folder.
	DeleteAfter bool
}

// association is the slice of client.Association the engine uses, kept
// narrow so tests can stand in a fake peer.
type association interface {
	SendCStore(req *client.CStoreRequest) (*client.CStoreResponse, error)
	GetPresentationContextID(abstractSyntax string) (byte, error)
	AcceptedTransferSyntax(abstractSyntax string) (string, error)
	Close() error
}

type dialFunc func(address string, cfg client.Config) (association, error)

func dialNetwork(address string, cfg client.Config) (association, error) {
	return client.Connect(address, cfg)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithConnectTimeout sets the association connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(e *Engine) { e.connectTimeout = d }
}

func withDialer(dial dialFunc) Option {
	return func(e *Engine) { e.dial = dial }
}

// Engine sends plan folders to peers.
type Engine struct {
	localAE        string
	failRoot       string
	connectTimeout time.Duration
	logger         *slog.Logger
	dial           dialFunc
}

// New creates a sending engine. failRoot is where quarantined copies of
// unsendable files are collected.
func New(localAE, failRoot string, opts ...Option) *Engine {
	e := &Engine{
		localAE:        localAE,
		failRoot:       failRoot,
		connectTimeout: 10 * time.Second,
		logger:         slog.Default(),
		dial:           dialNetwork,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// doseFileName matches files named like dose exports.
var doseFileName = regexp.MustCompile(`(?i)dose|rtdose`)

// sendItem is one file queued for sending.
type sendItem struct {
	path     string
	modality string
	sopClass string
	sopUID   string
	tsUID    string

	// raw marks a file whose dataset could not be parsed. It is sent
	// byte for byte, without rewrite or transcoding.
	raw bool
}

// modalityRank orders files within one association.
func modalityRank(modality string) int {
	switch modality {
	case "CT":
		return 0
	case "RTSTRUCT":
		return 1
	case "RTPLAN":
		return 2
	case "RTDOSE":
		return 3
	}
	return 4
}

// SendFolder sends every .dcm file under folder to the peer over one
// association. Per-file failures are quarantined and tallied in the
// summary; only association-level failures return an error.
func (e *Engine) SendFolder(ctx context.Context, folder string, peer config.Peer, opts SendOptions) (*Summary, error) {
	summary := &Summary{PerModality: make(map[string]Counts)}

	items, err := e.enumerate(folder, summary)
	if err != nil {
		return summary, err
	}
	if len(items) == 0 && summary.Failed == 0 {
		return summary, nil
	}

	assoc, err := e.dial(peer.Address(), client.Config{
		CallingAETitle:            e.localAE,
		CalledAETitle:             peer.AET,
		ConnectTimeout:            e.connectTimeout,
		Logger:                    e.logger,
		AbstractSyntaxes:          abstractSyntaxes(items),
		PreferredTransferSyntaxes: types.ProposedTransferSyntaxes(),
	})
	if err != nil {
		for _, it := range items {
			e.fail(summary, it, fmt.Errorf("association to %s failed: %w", peer.AET, err), false)
		}
		return summary, fmt.Errorf("associating with %s (%s): %w", peer.AET, peer.Address(), err)
	}
	defer assoc.Close()

	// CT failures are coalesced: the first is logged in full, the rest
	// only counted, so a failing series does not flood the log.
	ctFailures := 0

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			e.fail(summary, it, err, it.modality == "CT" && ctFailures > 0)
			if it.modality == "CT" {
				ctFailures++
			}
			continue
		}

		err := e.sendOne(assoc, it)
		if err == nil {
			summary.count(it.modality, true)
			continue
		}

		quiet := it.modality == "CT" && ctFailures > 0
		if it.modality == "CT" {
			ctFailures++
		}
		e.fail(summary, it, err, quiet)
	}

	if ctFailures > 1 {
		e.logger.Warn("Further CT send failures suppressed from log",
			"folder", folder, "ct_failures", ctFailures)
	}

	e.logger.Info("Folder send finished",
		"folder", folder,
		"peer", peer.AET,
		"summary", summary.String(),
		"failed", summary.Failed)

	if opts.DeleteAfter && summary.AllSucceeded() {
		for _, it := range items {
			if err := os.Remove(it.path); err != nil {
				e.logger.Warn("Could not delete sent file", "path", it.path, "error", err)
			}
		}
	}

	return summary, nil
}

// enumerate collects the .dcm files under folder in send order. Files whose
// header cannot be read count as failures immediately.
func (e *Engine) enumerate(folder string, summary *Summary) ([]sendItem, error) {
	var items []sendItem

	err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".dcm") {
			return nil
		}

		obj, rerr := dicom.ReadFile(path, false)
		if rerr != nil {
			// Dose exports with broken datasets still travel, addressed
			// by their file meta alone.
			if it, ok := rawDoseItem(path); ok {
				e.logger.Warn("Queueing unparseable dose file for raw send",
					"path", path, "error", rerr)
				items = append(items, it)
				return nil
			}
			e.fail(summary, sendItem{path: path, modality: "UN"},
				fmt.Errorf("reading header: %w", rerr), false)
			return nil
		}

		sopClass := obj.Dataset.GetString(dicom.TagSOPClassUID)
		if sopClass == "" {
			sopClass = obj.Meta.MediaStorageSOPClassUID
		}
		sopUID := obj.Dataset.GetString(dicom.TagSOPInstanceUID)
		if sopUID == "" {
			sopUID = obj.Meta.MediaStorageSOPInstanceUID
		}

		items = append(items, sendItem{
			path:     path,
			modality: obj.Dataset.GetString(dicom.TagModality),
			sopClass: sopClass,
			sopUID:   sopUID,
			tsUID:    obj.Meta.TransferSyntaxUID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", folder, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := modalityRank(items[i].modality), modalityRank(items[j].modality)
		if ri != rj {
			return ri < rj
		}
		return items[i].path < items[j].path
	})
	return items, nil
}

// rawDoseItem builds a raw send item for a dose-named file whose dataset
// cannot be parsed. The file meta must still identify the object.
func rawDoseItem(path string) (sendItem, bool) {
	if !doseFileName.MatchString(filepath.Base(path)) {
		return sendItem{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sendItem{}, false
	}
	meta, err := dicom.ParseFileMeta(data)
	if err != nil || meta.MediaStorageSOPClassUID == "" || meta.MediaStorageSOPInstanceUID == "" {
		return sendItem{}, false
	}
	return sendItem{
		path:     path,
		modality: "RTDOSE",
		sopClass: meta.MediaStorageSOPClassUID,
		sopUID:   meta.MediaStorageSOPInstanceUID,
		tsUID:    meta.TransferSyntaxUID,
		raw:      true,
	}, true
}

// abstractSyntaxes returns the SOP classes to propose: every class present
// in the folder, plus the standard RTPLAN class as fallback whenever the
// vendor-private one appears.
func abstractSyntaxes(items []sendItem) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(uid string) {
		if uid != "" && !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	for _, it := range items {
		add(it.sopClass)
		if it.sopClass == types.PrivateRTPlanStorage {
			add(types.RTPlanStorage)
		}
	}
	return out
}

// sendOne stores a single file over the association, rewriting the vendor
// SOP class and transcoding the transfer syntax as the negotiation demands.
func (e *Engine) sendOne(assoc association, it sendItem) error {
	data, err := os.ReadFile(it.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", it.path, err)
	}
	meta, err := dicom.ParseFileMeta(data)
	if err != nil {
		return fmt.Errorf("parsing file meta: %w", err)
	}
	datasetBytes := data[meta.DatasetOffset:]

	sopClass := it.sopClass
	if !it.raw {
		if sopClass == types.PrivateRTPlanStorage {
			if _, err := assoc.GetPresentationContextID(types.PrivateRTPlanStorage); err != nil {
				rewritten, changed, rerr := dicom.RewriteVendorSOPClass(datasetBytes, it.tsUID)
				if rerr != nil {
					return fmt.Errorf("rewriting vendor SOP class: %w", rerr)
				}
				if changed {
					datasetBytes = rewritten
				}
				sopClass = types.RTPlanStorage
			}
		}

		negotiatedTS, err := assoc.AcceptedTransferSyntax(sopClass)
		if err != nil {
			return err
		}
		if negotiatedTS != it.tsUID {
			datasetBytes, err = transcode(datasetBytes, it.tsUID, negotiatedTS)
			if err != nil {
				return fmt.Errorf("transcoding to %s: %w", negotiatedTS, err)
			}
		}
	}

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    sopClass,
		SOPInstanceUID: it.sopUID,
		Data:           datasetBytes,
	})
	if err != nil {
		return fmt.Errorf("C-STORE failed: %w", err)
	}
	if resp.Status != types.StatusSuccess {
		return dicomerrors.NewStoreFailedError(it.sopUID, resp.Status)
	}
	return nil
}

func transcode(datasetBytes []byte, fromTS, toTS string) ([]byte, error) {
	ds, err := dicom.ParseDatasetWithTransferSyntax(datasetBytes, fromTS)
	if err != nil {
		return nil, err
	}
	return dicom.EncodeDatasetWithTransferSyntax(ds, toTS)
}

// fail quarantines a copy of the file and records the failure. quiet
// suppresses the log line for coalesced CT failures.
func (e *Engine) fail(summary *Summary, it sendItem, cause error, quiet bool) {
	summary.count(it.modality, false)

	reason := fmt.Sprintf("Error sending %s", it.path)
	if _, err := faildir.Copy(e.failRoot, it.path, reason, cause); err != nil {
		e.logger.Error("Failed to quarantine unsent file", "path", it.path, "error", err)
	}
	if err := faildir.AppendLog(e.failRoot, fmt.Sprintf("%s: %v", it.path, cause)); err != nil {
		e.logger.Error("Failed to append send error log", "error", err)
	}

	if !quiet {
		e.logger.Warn("Send failed", "path", it.path, "modality", it.modality, "error", cause)
	}
}
