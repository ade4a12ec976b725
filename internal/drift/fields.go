package drift

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/classify"
	"github.com/linnemanlabs/warden/internal/fault"
)

// FieldMap assigns a sensitivity to each configuration field. Sensitivity is
// a property of the field, never of how far the value drifted. Fields not in
// the map are treated as high, so unknown drift is surfaced, never silently
// rewritten.
type FieldMap map[string]classify.Severity

// Severity returns the field's sensitivity, defaulting to high.
func (m FieldMap) Severity(field string) classify.Severity {
	if s, ok := m[field]; ok {
		return s
	}
	return classify.SeverityHigh
}

// Validate checks that every entry is medium or high. Other tiers have no
// meaning here: there is no critical write-back and nothing is low enough
// to ignore.
func (m FieldMap) Validate() error {
	for field, s := range m {
		if s != classify.SeverityMedium && s != classify.SeverityHigh {
			return fault.New(fault.KindValidation, "drift: field %q has severity %q, want medium or high", field, s)
		}
	}
	return nil
}

// DefaultFields returns the built-in sensitivity map for NAC node
// configuration.
func DefaultFields() FieldMap {
	return FieldMap{
		"authentication_enabled": classify.SeverityHigh,
		"radius_server":          classify.SeverityHigh,
		"allowed_protocols":      classify.SeverityHigh,
		"session_timeout":        classify.SeverityMedium,
		"quarantine_vlan":        classify.SeverityMedium,
	}
}

// LoadFields reads a field sensitivity map from a YAML file.
func LoadFields(path string) (FieldMap, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("drift: read field map: %w", err)
	}
	var m FieldMap
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fault.New(fault.KindValidation, "drift: parse field map: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
