// Package classify maps anomaly-model confidence scores to severity tiers and
// the remediation actions recommended for each tier. The threshold table is
// the system's single point of policy tuning: it is loaded from configuration
// and validated for contiguity before use.
package classify

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/fault"
)

// Severity is an incident severity tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Action names a remediation primitive executed against an integration
// platform. The set is closed: unknown names are a validation fault at
// table-load time.
type Action string

const (
	ActionQuarantineDevice   Action = "quarantine_device"
	ActionQuarantineArtifact Action = "quarantine_artifact"
	ActionAlertSOC           Action = "alert_soc"
	ActionIsolateVLAN        Action = "isolate_vlan"
	ActionNotifyTeam         Action = "notify_team"
	ActionCreateAlert        Action = "create_alert"
	ActionLogIncident        Action = "log_incident"
)

// rank orders actions most-disruptive-first for dispatch. Audit ordering
// depends on this being stable.
var rank = map[Action]int{
	ActionQuarantineDevice:   0,
	ActionIsolateVLAN:        1,
	ActionQuarantineArtifact: 2,
	ActionAlertSOC:           3,
	ActionNotifyTeam:         4,
	ActionCreateAlert:        5,
	ActionLogIncident:        6,
}

// Known reports whether a is a recognized action name.
func Known(a Action) bool {
	_, ok := rank[a]
	return ok
}

// SortActions orders actions in dispatch priority, most disruptive first.
func SortActions(actions []Action) []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out
}

// Tier is one row of the threshold table: confidences in
// [LowerBound, next row's LowerBound) classify into this tier.
type Tier struct {
	LowerBound float64  `yaml:"lower_bound"`
	Severity   Severity `yaml:"severity"`
	Actions    []Action `yaml:"actions"`

	// AutoExecute marks tiers whose actions are dispatched without human
	// approval. Tiers without it are surfaced for follow-up only.
	AutoExecute bool `yaml:"auto_execute"`
}

// Table is an ordered set of tiers covering [0,1] with no gaps or overlaps.
type Table struct {
	tiers []Tier // descending by LowerBound
}

// Default returns the built-in threshold table.
func Default() *Table {
	t, err := New([]Tier{
		{LowerBound: 0.95, Severity: SeverityCritical, AutoExecute: true,
			Actions: []Action{ActionQuarantineDevice, ActionQuarantineArtifact, ActionAlertSOC}},
		{LowerBound: 0.85, Severity: SeverityHigh, AutoExecute: true,
			Actions: []Action{ActionIsolateVLAN, ActionNotifyTeam}},
		{LowerBound: 0.70, Severity: SeverityMedium,
			Actions: []Action{ActionCreateAlert}},
		{LowerBound: 0, Severity: SeverityLow,
			Actions: []Action{ActionLogIncident}},
	})
	if err != nil {
		// the built-in table is validated by tests
		panic(err)
	}
	return t
}

// New validates tiers and returns a Table. Tiers may be given in any order;
// they are sorted descending by lower bound. The table must be contiguous
// over [0,1]: strictly decreasing bounds, lowest bound exactly 0, all bounds
// within [0,1), and every action name known.
func New(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fault.New(fault.KindValidation, "threshold table is empty")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LowerBound > sorted[j].LowerBound })

	for i, tier := range sorted {
		if tier.LowerBound < 0 || tier.LowerBound >= 1 {
			return nil, fault.New(fault.KindValidation, "tier %q lower bound %v outside [0,1)", tier.Severity, tier.LowerBound)
		}
		if i > 0 && tier.LowerBound >= sorted[i-1].LowerBound {
			return nil, fault.New(fault.KindValidation, "tier bounds overlap at %v", tier.LowerBound)
		}
		if len(tier.Actions) == 0 {
			return nil, fault.New(fault.KindValidation, "tier %q has no actions", tier.Severity)
		}
		for _, a := range tier.Actions {
			if !Known(a) {
				return nil, fault.New(fault.KindValidation, "unknown action %q in tier %q", a, tier.Severity)
			}
		}
	}
	if last := sorted[len(sorted)-1]; last.LowerBound != 0 {
		return nil, fault.New(fault.KindValidation, "threshold table leaves a gap below %v", last.LowerBound)
	}

	return &Table{tiers: sorted}, nil
}

// LoadFile reads a YAML threshold table. Misconfiguration fails here, at
// startup, rather than at classification time.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err)
	}
	var doc struct {
		Tiers []Tier `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err)
	}
	return New(doc.Tiers)
}

// Classify resolves a confidence score to its tier. Pure and total over
// [0,1]; anything outside that range is a validation fault.
func (t *Table) Classify(confidence float64) (Tier, error) {
	if confidence < 0 || confidence > 1 {
		return Tier{}, fault.New(fault.KindValidation, "confidence %v outside [0,1]", confidence)
	}
	for _, tier := range t.tiers {
		if confidence >= tier.LowerBound {
			// copy the action slice so callers can't mutate the table
			out := tier
			out.Actions = SortActions(tier.Actions)
			return out, nil
		}
	}
	// unreachable: the lowest bound is pinned to 0
	return Tier{}, fault.New(fault.KindValidation, "no tier for confidence %v", confidence)
}

// Tiers returns the validated tiers, descending by lower bound.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
