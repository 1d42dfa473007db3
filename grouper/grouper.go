// Package grouper turns a flushed set of received files into plan folders:
// each RTPLAN gets a folder holding the plan, its referenced dose, and the
// structure set and CT series sharing its frame of reference. Files no plan
// claims end up in a per-patient orphan folder.
package grouper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dicomrt/follow/dicom"
	dicomerrors "github.com/dicomrt/follow/errors"
	"github.com/dicomrt/follow/faildir"
	"github.com/dicomrt/follow/sanitize"
)

// OrphanFolderName labels the per-study folder for files that match no plan.
const OrphanFolderName = "Unzugeordnet"

var doseNamePattern = regexp.MustCompile(`(?i)dose|rtdose`)

// PlacedPlan describes one plan folder produced by Process.
type PlacedPlan struct {
	// Folder is the absolute path of the plan folder.
	Folder string

	// PlanLabel is the sanitized RTPlanLabel.
	PlanLabel string

	// SourceAE is the SourceApplicationEntityTitle recorded in the plan
	// file's meta, empty when the object did not arrive over DICOM.
	SourceAE string
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Grouper) { g.logger = logger }
}

// WithSubdirMap routes files from mapped source AE titles into a dedicated
// subdirectory of the root.
func WithSubdirMap(m map[string]string) Option {
	return func(g *Grouper) { g.subdirByAE = m }
}

// Grouper places grouped plan folders under a fixed root.
type Grouper struct {
	root       string
	subdirByAE map[string]string
	logger     *slog.Logger
}

// New creates a grouper placing plan folders under root.
func New(root string, opts ...Option) *Grouper {
	g := &Grouper{
		root:   root,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// item is the parsed header of one staged file.
type item struct {
	path        string
	modality    string
	patientID   string
	patientName string
	sopUID      string
	studyUID    string
	forUID      string
	planLabel   string
	seriesDesc  string
	studyDesc   string
	refPlanUID  string
	sourceAE    string

	// raw marks a dose-named file whose header could not be parsed. It is
	// placed byte-exact without joining.
	raw      bool
	attached bool
}

// Process groups the given files into plan folders. sourceAE names where
// the group came from and is only used for subdirectory routing and logs.
// Every input file is consumed: placed, quarantined, or removed.
func (g *Grouper) Process(ctx context.Context, files []string, sourceAE string) []PlacedPlan {
	items := g.parseAll(ctx, files)

	var plans, rest []*item
	for _, it := range items {
		if it.modality == "RTPLAN" {
			plans = append(plans, it)
		} else {
			rest = append(rest, it)
		}
	}

	root := g.rootFor(sourceAE)

	var placed []PlacedPlan
	for _, plan := range plans {
		pp, err := g.placePlan(ctx, root, plan, rest)
		if err != nil {
			g.quarantine(plan, "Error placing plan "+plan.path, err)
			continue
		}
		placed = append(placed, pp)
	}

	g.placeOrphans(ctx, root, rest)
	g.cleanup(items)
	return placed
}

func (g *Grouper) parseAll(ctx context.Context, files []string) []*item {
	items := make([]*item, 0, len(files))
	for _, path := range files {
		it, err := parseHeader(path)
		if err != nil {
			if doseNamePattern.MatchString(filepath.Base(path)) {
				g.logger.WarnContext(ctx, "Unparseable dose file kept verbatim",
					"path", path, "error", err)
				items = append(items, &item{path: path, modality: "RTDOSE", raw: true})
				continue
			}
			g.quarantine(&item{path: path}, "Error parsing header of "+path, err)
			continue
		}
		items = append(items, it)
	}
	return items
}

func parseHeader(path string) (*item, error) {
	obj, err := dicom.ReadFile(path, false)
	if err != nil {
		return nil, dicomerrors.NewHeaderParseError(path, err)
	}
	ds := obj.Dataset

	it := &item{
		path:        path,
		modality:    ds.GetString(dicom.TagModality),
		patientID:   ds.GetString(dicom.TagPatientID),
		patientName: ds.GetString(dicom.TagPatientName),
		sopUID:      ds.GetString(dicom.TagSOPInstanceUID),
		studyUID:    ds.GetString(dicom.TagStudyInstanceUID),
		forUID:      ds.GetString(dicom.TagFrameOfReferenceUID),
		planLabel:   ds.GetString(dicom.TagRTPlanLabel),
		seriesDesc:  ds.GetString(dicom.TagSeriesDescription),
		studyDesc:   ds.GetString(dicom.TagStudyDescription),
		sourceAE:    obj.Meta.SourceApplicationEntityTitle,
	}
	if it.sopUID == "" {
		it.sopUID = obj.Meta.MediaStorageSOPInstanceUID
	}

	if it.modality == "RTDOSE" {
		for _, ref := range ds.GetSequence(dicom.TagReferencedRTPlanSequence) {
			it.refPlanUID = ref.GetString(dicom.TagReferencedSOPInstance)
			break
		}
	}
	return it, nil
}

func (g *Grouper) rootFor(sourceAE string) string {
	if sub, ok := g.subdirByAE[sourceAE]; ok && sub != "" {
		return filepath.Join(g.root, sub)
	}
	return g.root
}

// placePlan builds the plan folder and moves or copies the joined files
// into it. Join failures on individual companions quarantine that file and
// leave the rest of the folder intact.
func (g *Grouper) placePlan(ctx context.Context, root string, plan *item, rest []*item) (PlacedPlan, error) {
	label := sanitize.Component(plan.planLabel)
	if label == "" {
		label = "RTPLAN"
	}
	folder := filepath.Join(root, patientDir(plan), fmt.Sprintf("%s_%s", label, studyIDSuffix(plan.studyUID)))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return PlacedPlan{}, fmt.Errorf("creating plan folder: %w", err)
	}

	if err := g.writePlanFile(plan, filepath.Join(folder, "RTPLAN_"+label+".dcm")); err != nil {
		return PlacedPlan{}, err
	}
	plan.attached = true

	for _, it := range rest {
		if !g.joins(ctx, plan, it) {
			continue
		}
		var dest string
		var copyOnly bool
		switch it.modality {
		case "RTDOSE":
			dest = filepath.Join(folder, "RTDOSE_"+label+".dcm")
		case "RTSTRUCT":
			dest = filepath.Join(folder, "RTSTRUCT_"+label+".dcm")
			copyOnly = true
		default:
			dest = filepath.Join(folder, "CT."+sanitize.Component(it.sopUID)+".dcm")
			copyOnly = true
		}

		var err error
		if copyOnly {
			// May be referenced by more than one plan, so the staged
			// copy stays available.
			err = copyFile(it.path, dest)
		} else {
			err = moveFile(it.path, dest)
		}
		if err != nil {
			g.quarantine(it, "Error placing "+it.path, dicomerrors.NewPlacementError(it.path, dest, err))
			continue
		}
		it.attached = true
	}

	g.logger.InfoContext(ctx, "Placed plan folder",
		"folder", folder,
		"plan_label", label,
		"patient_id", plan.patientID)

	return PlacedPlan{Folder: folder, PlanLabel: label, SourceAE: plan.sourceAE}, nil
}

// joins reports whether it belongs to plan. A dose whose plan reference
// matches but whose patient differs is rejected loudly.
func (g *Grouper) joins(ctx context.Context, plan, it *item) bool {
	if it.attached || it.raw {
		return false
	}
	switch it.modality {
	case "RTDOSE":
		if it.refPlanUID == "" || it.refPlanUID != plan.sopUID {
			return false
		}
		if it.patientID != plan.patientID {
			g.logger.WarnContext(ctx, "Rejecting dose: referenced plan matches but patient differs",
				"dose", it.path,
				"dose_patient", it.patientID,
				"plan_patient", plan.patientID,
				"plan_sop", plan.sopUID)
			return false
		}
		return true
	case "CT", "RTSTRUCT":
		return it.forUID != "" && it.forUID == plan.forUID && it.patientID == plan.patientID
	}
	return false
}

// writePlanFile re-encodes the plan with sanitized identifying attributes
// so the on-disk names and the tag values agree.
func (g *Grouper) writePlanFile(plan *item, dest string) error {
	obj, err := dicom.ReadFile(plan.path, true)
	if err != nil {
		return fmt.Errorf("re-reading plan: %w", err)
	}

	sanitizeTag(obj.Dataset, dicom.TagPatientName, sanitize.PatientName)
	sanitizeTag(obj.Dataset, dicom.TagPatientID, sanitize.Component)
	sanitizeTag(obj.Dataset, dicom.TagRTPlanLabel, sanitize.Component)

	return dicom.WriteFile(dest, obj, dicom.WriteReencode)
}

func sanitizeTag(ds *dicom.Dataset, tag dicom.Tag, fn func(string) string) {
	if v := ds.GetString(tag); v != "" && fn(v) != v {
		ds.SetString(tag, fn(v))
	}
}

// placeOrphans moves every unattached file into its patient's orphan
// folder.
func (g *Grouper) placeOrphans(ctx context.Context, root string, rest []*item) {
	for _, it := range rest {
		if it.attached {
			continue
		}

		folder := filepath.Join(root, patientDir(it),
			fmt.Sprintf("%s_%s", OrphanFolderName, studyIDSuffix(it.studyUID)))
		if err := os.MkdirAll(folder, 0o755); err != nil {
			g.quarantine(it, "Error placing orphan "+it.path, err)
			continue
		}

		var name string
		if it.modality == "CT" && it.sopUID != "" {
			name = "CT." + sanitize.Component(it.sopUID) + ".dcm"
		} else {
			name = fmt.Sprintf("%s_%s.dcm", orphanModality(it), orphanLabel(it))
		}

		dest := filepath.Join(folder, name)
		if err := moveFile(it.path, dest); err != nil {
			g.quarantine(it, "Error placing orphan "+it.path, dicomerrors.NewPlacementError(it.path, dest, err))
			continue
		}
		it.attached = true

		g.logger.InfoContext(ctx, "Placed orphan",
			"file", name,
			"folder", folder,
			"modality", it.modality)
	}
}

func orphanModality(it *item) string {
	if it.modality == "" {
		return "UN"
	}
	return it.modality
}

func orphanLabel(it *item) string {
	for _, candidate := range []string{it.seriesDesc, it.studyDesc} {
		if s := sanitize.Component(candidate); s != "" {
			return s
		}
	}
	return OrphanFolderName
}

// cleanup removes staged sources that were copied rather than moved. Purely
// best-effort, the staging directory itself is the flusher's to reap.
func (g *Grouper) cleanup(items []*item) {
	for _, it := range items {
		if _, err := os.Stat(it.path); err == nil {
			os.Remove(it.path)
		}
	}
}

func (g *Grouper) quarantine(it *item, reason string, cause error) {
	dest, err := faildir.Move(g.root, it.path, reason, cause)
	if err != nil {
		g.logger.Error("Failed to quarantine file",
			"path", it.path, "error", err, "cause", cause)
		return
	}
	g.logger.Warn("Quarantined file", "path", it.path, "dest", dest, "error", cause)
}

// patientDir builds the "<Name> (<ID>)" folder component.
func patientDir(it *item) string {
	name := sanitize.PatientName(it.patientName)
	id := sanitize.Component(it.patientID)
	if name == "" && id == "" {
		return "Unbekannt"
	}
	if name == "" {
		name = "Unbekannt"
	}
	return fmt.Sprintf("%s (%s)", name, id)
}

// studyIDSuffix is the last dot-separated segment of the study UID.
func studyIDSuffix(studyUID string) string {
	if studyUID == "" {
		return "0"
	}
	if i := strings.LastIndex(studyUID, "."); i >= 0 {
		return studyUID[i+1:]
	}
	return studyUID
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
