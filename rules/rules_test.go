package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomrt/follow/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ForwardingEnabled: true,
		Peers: []config.Peer{
			{Name: "archive", AET: "ARCHIVE", IP: "10.0.0.5", Port: 11112, Enabled: true},
			{Name: "review", AET: "REVIEW", IP: "10.0.0.6", Port: 11112, Enabled: true},
			{Name: "offline", AET: "OFFLINE", IP: "10.0.0.7", Port: 11112, Enabled: false},
		},
		Rules: []config.Rule{
			{
				Name:            "aria plans",
				Enabled:         true,
				SourceAE:        "ARIA",
				TargetNodeNames: []string{"archive"},
			},
			{
				Name:               "adaptive plans",
				Enabled:            true,
				PlanLabelSubstring: "ADP",
				TargetNodeNames:    []string{"review"},
			},
			{
				Name:            "disabled rule",
				Enabled:         false,
				TargetNodeNames: []string{"review"},
			},
			{
				Name:            "to disabled peer",
				Enabled:         true,
				SourceAE:        "MONACO",
				TargetNodeNames: []string{"offline"},
			},
		},
	}
}

func peerNames(peers []config.Peer) []string {
	var names []string
	for _, p := range peers {
		names = append(names, p.Name)
	}
	return names
}

func TestCheck_Matching(t *testing.T) {
	e := NewEngine(testConfig())

	tests := []struct {
		name      string
		sourceAE  string
		planLabel string
		want      []string
	}{
		{"source match", "ARIA", "Prostate", []string{"archive"}},
		{"no match", "MOSAIQ", "Prostate", nil},
		{"label substring match", "MOSAIQ", "Head_ADP_2", []string{"review"}},
		{"both rules match", "ARIA", "Head_ADP", []string{"archive", "review"}},
		{"disabled peer dropped", "MONACO", "anything", nil},
		{"empty label no substring match", "MOSAIQ", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Check(tt.sourceAE, tt.planLabel)
			assert.Equal(t, tt.want, peerNames(got))
		})
	}
}

func TestCheck_GlobalDisable(t *testing.T) {
	cfg := testConfig()
	cfg.ForwardingEnabled = false

	e := NewEngine(cfg)
	assert.Empty(t, e.Check("ARIA", "Head_ADP"))
}

func TestCheck_EmptySourceMatchesAny(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = []config.Rule{
		{Name: "catch all", Enabled: true, TargetNodeNames: []string{"archive"}},
	}

	e := NewEngine(cfg)
	assert.Equal(t, []string{"archive"}, peerNames(e.Check("ANY", "whatever")))
	assert.Equal(t, []string{"archive"}, peerNames(e.Check(ImportFolderSource, "")))
}

func TestCheck_DeduplicatesTargets(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = []config.Rule{
		{Name: "r1", Enabled: true, SourceAE: "ARIA", TargetNodeNames: []string{"archive"}},
		{Name: "r2", Enabled: true, PlanLabelSubstring: "ADP", TargetNodeNames: []string{"archive"}},
	}

	e := NewEngine(cfg)
	assert.Equal(t, []string{"archive"}, peerNames(e.Check("ARIA", "Head_ADP")))
}

func TestNewEngine_SynthesizesImportRule(t *testing.T) {
	e := NewEngine(testConfig())

	var importRule *config.Rule
	rules := e.Rules()
	for i := range rules {
		if rules[i].SourceAE == ImportFolderSource {
			importRule = &rules[i]
			break
		}
	}
	require.NotNil(t, importRule)
	assert.False(t, importRule.Enabled)
	assert.Empty(t, importRule.TargetNodeNames)
}

func TestNewEngine_KeepsExplicitImportRule(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = append(cfg.Rules, config.Rule{
		Name:            "import to archive",
		Enabled:         true,
		SourceAE:        ImportFolderSource,
		TargetNodeNames: []string{"archive"},
	})

	e := NewEngine(cfg)

	count := 0
	for _, r := range e.Rules() {
		if r.SourceAE == ImportFolderSource {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"archive"}, peerNames(e.Check(ImportFolderSource, "plan")))
}

func TestCheck_ConcurrentUse(t *testing.T) {
	e := NewEngine(testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Check("ARIA", "Head_ADP")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"archive", "review"}, peerNames(e.Check("ARIA", "Head_ADP")))
}
