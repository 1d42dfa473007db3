// Package pipeline wires the stages together: flushed receive groups go
// through the grouper, placed plan folders are routed by the rule engine,
// and matching folders are forwarded to their peers.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dicomrt/follow/buffer"
	"github.com/dicomrt/follow/config"
	"github.com/dicomrt/follow/dicom"
	"github.com/dicomrt/follow/faildir"
	"github.com/dicomrt/follow/grouper"
	"github.com/dicomrt/follow/rules"
	"github.com/dicomrt/follow/sender"
)

// Grouper places flushed file groups into plan folders.
type Grouper interface {
	Process(ctx context.Context, files []string, sourceAE string) []grouper.PlacedPlan
}

// Sender forwards one folder to one peer.
type Sender interface {
	SendFolder(ctx context.Context, folder string, peer config.Peer, opts sender.SendOptions) (*sender.Summary, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithConverter overrides the Enhanced MR converter invocation.
func WithConverter(run func(ctx context.Context, path string) error) Option {
	return func(p *Pipeline) { p.convert = run }
}

// Pipeline orchestrates grouping and forwarding.
type Pipeline struct {
	cfg     *config.Config
	grouper Grouper
	rules   *rules.Engine
	sender  Sender
	logger  *slog.Logger
	convert func(ctx context.Context, path string) error
}

// New creates the orchestrator.
func New(cfg *config.Config, g Grouper, r *rules.Engine, s Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		grouper: g,
		rules:   r,
		sender:  s,
		logger:  slog.Default(),
	}
	p.convert = p.runEmf2sf
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Flush implements the receive buffer's hand-off: the flushed group is
// placed into plan folders and each folder is forwarded by rule. Rule-driven
// forwarding never deletes the placed folders.
func (p *Pipeline) Flush(group buffer.Group) {
	ctx := context.Background()

	placed := p.grouper.Process(ctx, group.Files, group.SourceAE)

	if err := os.RemoveAll(group.Dir); err != nil {
		p.logger.Warn("Could not remove staging directory", "dir", group.Dir, "error", err)
	}

	for _, plan := range placed {
		p.forward(ctx, plan.Folder, plan.PlanLabel, plan.SourceAE, false)
	}
}

// forward routes one plan folder through the rule engine and sends it to
// every matching peer. A failing target does not stop the others.
func (p *Pipeline) forward(ctx context.Context, folder, planLabel, sourceAE string, deleteAfter bool) {
	if sourceAE == "" {
		sourceAE = rules.ImportFolderSource
	}

	targets := p.rules.Check(sourceAE, planLabel)
	if len(targets) == 0 {
		p.logger.Debug("No forwarding targets",
			"folder", folder, "source_ae", sourceAE, "plan_label", planLabel)
		return
	}

	workers := p.cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			summary, err := p.sender.SendFolder(gctx, folder, target, sender.SendOptions{
				DeleteAfter: deleteAfter,
			})
			if err != nil {
				p.logger.Error("Forwarding failed",
					"folder", folder, "peer", target.Name, "error", err)
				return nil
			}
			p.logger.Info("Forwarded plan folder",
				"folder", folder,
				"peer", target.Name,
				"summary", summary.String(),
				"failed", summary.Failed)
			return nil
		})
	}
	g.Wait()
}

// HandleSpoolFolder processes one quiet spool folder on behalf of the
// folder watcher: the plan header decides the routing, and deletion after a
// fully successful send follows the configuration.
func (p *Pipeline) HandleSpoolFolder(ctx context.Context, folder string) {
	planLabel, sourceAE, err := planIdentity(folder)
	if err != nil {
		p.logger.Warn("Spool folder has no readable plan",
			"folder", folder, "error", err)
		return
	}
	p.forward(ctx, folder, planLabel, sourceAE, p.cfg.DeleteAfterSend)
}

// planIdentity reads the RTPLAN header of a folder to recover the plan
// label and the source AE title.
func planIdentity(folder string) (planLabel, sourceAE string, err error) {
	var found bool
	walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".dcm") {
			return nil
		}
		obj, rerr := dicom.ReadFile(path, false)
		if rerr != nil {
			return nil
		}
		if obj.Dataset.GetString(dicom.TagModality) != "RTPLAN" {
			return nil
		}
		found = true
		planLabel = obj.Dataset.GetString(dicom.TagRTPlanLabel)
		sourceAE = obj.Meta.SourceApplicationEntityTitle
		return nil
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	if !found {
		return "", "", fmt.Errorf("no RTPLAN file in %s", folder)
	}
	return planLabel, sourceAE, nil
}

// RunImport feeds the configured import folder through the same grouping
// pipeline as network receives, under the IMPORT_FOLDER source. The folder
// is cleared afterwards only when the configuration says so.
func (p *Pipeline) RunImport(ctx context.Context) error {
	if p.cfg.ImportFolder == "" {
		return fmt.Errorf("no import folder configured")
	}

	var files []string
	err := filepath.WalkDir(p.cfg.ImportFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning import folder: %w", err)
	}

	p.logger.InfoContext(ctx, "Importing folder",
		"folder", p.cfg.ImportFolder, "files", len(files))

	placed := p.grouper.Process(ctx, files, rules.ImportFolderSource)
	for _, plan := range placed {
		p.forward(ctx, plan.Folder, plan.PlanLabel, rules.ImportFolderSource, false)
	}

	if p.cfg.ClearImportFolderAfterImport {
		p.clearImportFolder()
	}
	return nil
}

// clearImportFolder empties the import folder without removing the folder
// itself.
func (p *Pipeline) clearImportFolder() {
	entries, err := os.ReadDir(p.cfg.ImportFolder)
	if err != nil {
		p.logger.Warn("Could not clear import folder", "error", err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(p.cfg.ImportFolder, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			p.logger.Warn("Could not remove import entry", "path", path, "error", err)
		}
	}
}

// ConvertEnhancedMR hands a staged Enhanced MR file to the external emf2sf
// converter in the background. Conversion is off the critical path; a
// failure quarantines a copy of the source and the pipeline moves on.
func (p *Pipeline) ConvertEnhancedMR(path string) {
	if p.cfg.Emf2sfPath == "" {
		return
	}
	go func() {
		ctx := context.Background()
		if err := p.convert(ctx, path); err != nil {
			p.logger.Warn("Enhanced MR conversion failed", "path", path, "error", err)
			reason := fmt.Sprintf("Error converting Enhanced MR file %s", path)
			if _, qerr := faildir.Copy(p.cfg.ReceiveRoot, path, reason, err); qerr != nil {
				p.logger.Error("Failed to quarantine unconverted file",
					"path", path, "error", qerr)
			}
		}
	}()
}

func (p *Pipeline) runEmf2sf(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, p.cfg.Emf2sfPath, "--out-dir", filepath.Dir(path), path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("emf2sf: %w: %s", err, strings.TrimSpace(string(out)))
	}
	p.logger.Debug("Enhanced MR converted", "path", path, "output", strings.TrimSpace(string(out)))
	return nil
}
