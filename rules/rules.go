// Package rules evaluates forwarding rules: given the calling AE title and
// the plan label of a grouped folder, it decides which configured peers the
// folder is forwarded to.
package rules

import (
	"strings"

	"github.com/dicomrt/follow/config"
)

// ImportFolderSource is the distinguished source used for objects that
// entered through the filesystem import folder rather than over DICOM.
const ImportFolderSource = "IMPORT_FOLDER"

// Engine evaluates rules against a fixed configuration snapshot. It holds
// no mutable state, so a single Engine is safe for concurrent use.
type Engine struct {
	enabled bool
	rules   []config.Rule
	peers   map[string]config.Peer
}

// NewEngine builds an engine from the configuration. If no rule names
// ImportFolderSource as its source, a disabled placeholder rule is added so
// the import path is always visible in rule listings.
func NewEngine(cfg *config.Config) *Engine {
	peers := make(map[string]config.Peer, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers[p.Name] = p
	}

	rules := make([]config.Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	if !hasImportRule(rules) {
		rules = append(rules, config.Rule{
			Name:     "import folder",
			Enabled:  false,
			SourceAE: ImportFolderSource,
		})
	}

	return &Engine{
		enabled: cfg.ForwardingEnabled,
		rules:   rules,
		peers:   peers,
	}
}

func hasImportRule(rules []config.Rule) bool {
	for _, r := range rules {
		if r.SourceAE == ImportFolderSource {
			return true
		}
	}
	return false
}

// Rules returns the engine's rule set, including any synthesized entries.
func (e *Engine) Rules() []config.Rule {
	out := make([]config.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Check returns the peers a folder with the given source AE title and plan
// label should be forwarded to. Disabled rules, disabled peers and unknown
// target names are skipped. Each peer appears at most once even when
// several rules select it.
func (e *Engine) Check(sourceAE, planLabel string) []config.Peer {
	if !e.enabled {
		return nil
	}

	var out []config.Peer
	seen := make(map[string]bool)
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if !e.matches(r, sourceAE, planLabel) {
			continue
		}
		for _, name := range r.TargetNodeNames {
			peer, ok := e.peers[name]
			if !ok || !peer.Enabled || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, peer)
		}
	}
	return out
}

func (e *Engine) matches(r config.Rule, sourceAE, planLabel string) bool {
	if r.SourceAE != "" && r.SourceAE != sourceAE {
		return false
	}
	if r.PlanLabelSubstring != "" && !strings.Contains(planLabel, r.PlanLabelSubstring) {
		return false
	}
	return true
}
