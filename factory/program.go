/*
Package factory provides JSON/YAML to Go program conversion.

PURPOSE:
  Converts declarative program definitions into rewards.ProgramConfig
  (initialization arguments plus the rule set). Program operators can
  tune caps, the reserve ratio and per-type weights without code changes.

JSON SCHEMA:
  {
    "name": "open-source",
    "monthly_threshold": 1000,
    "max_points_per_type": 400,
    "reserve_ratio_bps": 5000,
    "initial_reserve": 100000,
    "period": {"type": "fixed", "length": "720h"},
    "contribution_types": [
      {"type": "pull_request", "rule": "linear", "weight": "2"},
      {"type": "bug_report", "rule": "flat", "points": 25}
    ]
  }

  The same document may be written in YAML with identical keys.

WEIGHTS:
  Linear weights are decimals ("0.5", "1.25") converted to basis points.
  A weight that does not land on a whole basis point is rejected rather
  than rounded, so the stored program is exactly the one written.

KINDS:
  Type names that are not built in are registered as new contribution
  types, so a program can define its own variants.

USAGE:
  f := factory.NewProgramFactory()
  program, err := f.ParseProgram(rewards.DefaultProgramJSON("oss", 1000, 400, 5000))
  engine := rewards.NewEngine(store).WithRules(program.Rules)
  engine.Initialize(ctx, authority, program.Args)

SEE ALSO:
  - rewards/policies.go: Go-based program presets
  - generic/accrual.go: LinearAccrual, FlatAccrual
*/
package factory

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// ProgramJSON is the serialized representation of a program.
type ProgramJSON struct {
	Name              string             `json:"name" yaml:"name"`
	MonthlyThreshold  uint64             `json:"monthly_threshold" yaml:"monthly_threshold"`
	MaxPointsPerType  uint64             `json:"max_points_per_type" yaml:"max_points_per_type"`
	ReserveRatioBps   uint16             `json:"reserve_ratio_bps" yaml:"reserve_ratio_bps"`
	InitialReserve    uint64             `json:"initial_reserve,omitempty" yaml:"initial_reserve,omitempty"`
	Period            PeriodJSON         `json:"period" yaml:"period"`
	ContributionTypes []ContributionJSON `json:"contribution_types" yaml:"contribution_types"`
}

// PeriodJSON represents the rollover schedule.
type PeriodJSON struct {
	Type   string `json:"type" yaml:"type"`                         // manual, calendar_month, fixed
	Length string `json:"length,omitempty" yaml:"length,omitempty"` // Go duration, fixed only
}

// ContributionJSON maps one contribution type to its rule.
type ContributionJSON struct {
	Type   string `json:"type" yaml:"type"`
	Rule   string `json:"rule" yaml:"rule"`                         // linear, flat
	Weight string `json:"weight,omitempty" yaml:"weight,omitempty"` // linear: points per unit
	Points uint64 `json:"points,omitempty" yaml:"points,omitempty"` // flat: points per event
}

// =============================================================================
// PROGRAM FACTORY
// =============================================================================

// ProgramFactory converts program definitions to Go structs.
type ProgramFactory struct{}

// NewProgramFactory creates a new program factory.
func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{}
}

// ParseProgram parses a JSON program definition.
func (f *ProgramFactory) ParseProgram(jsonStr string) (*rewards.ProgramConfig, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse program JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParseProgramYAML parses a YAML program definition.
func (f *ProgramFactory) ParseProgramYAML(yamlStr string) (*rewards.ProgramConfig, error) {
	var pj ProgramJSON
	if err := yaml.Unmarshal([]byte(yamlStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse program YAML: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile reads a program definition, choosing the format by extension.
func (f *ProgramFactory) LoadFile(path string) (*rewards.ProgramConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return f.ParseProgramYAML(string(data))
	default:
		return f.ParseProgram(string(data))
	}
}

// FromJSON converts ProgramJSON to a ProgramConfig.
func (f *ProgramFactory) FromJSON(pj ProgramJSON) (*rewards.ProgramConfig, error) {
	if pj.ReserveRatioBps > rewards.MaxReserveRatio {
		return nil, fmt.Errorf("%w: %d bps", generic.ErrInvalidRatio, pj.ReserveRatioBps)
	}
	schedule, err := parsePeriodConfig(pj.Period)
	if err != nil {
		return nil, err
	}
	if len(pj.ContributionTypes) == 0 {
		return nil, fmt.Errorf("program %q defines no contribution types", pj.Name)
	}

	rules := rewards.RuleSet{}
	for _, cj := range pj.ContributionTypes {
		name := strings.TrimSpace(cj.Type)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", generic.ErrInvalidContributionType)
		}
		t := rewards.ContributionType(name)
		if _, dup := rules[t]; dup {
			return nil, fmt.Errorf("contribution type %q defined twice", name)
		}
		rule, err := parseRule(cj)
		if err != nil {
			return nil, fmt.Errorf("contribution type %q: %w", name, err)
		}
		// Domain packages register built-ins on init; program-defined
		// types are registered here.
		if generic.LookupKind(name) == nil {
			generic.RegisterKind(t)
		}
		rules[t] = rule
	}

	return &rewards.ProgramConfig{
		Name: pj.Name,
		Args: rewards.InitializeArgs{
			MonthlyThreshold: pj.MonthlyThreshold,
			ReserveRatio:     pj.ReserveRatioBps,
			MaxPointsPerType: pj.MaxPointsPerType,
			InitialReserve:   pj.InitialReserve,
			Schedule:         schedule,
		},
		Rules: rules,
	}, nil
}

// ToJSON converts a ProgramConfig back to its serialized form.
// Contribution types are sorted by name.
func (f *ProgramFactory) ToJSON(p *rewards.ProgramConfig) (ProgramJSON, error) {
	pj := ProgramJSON{
		Name:             p.Name,
		MonthlyThreshold: p.Args.MonthlyThreshold,
		MaxPointsPerType: p.Args.MaxPointsPerType,
		ReserveRatioBps:  p.Args.ReserveRatio,
		InitialReserve:   p.Args.InitialReserve,
		Period:           PeriodJSON{Type: string(p.Args.Schedule.Type)},
	}
	if p.Args.Schedule.Type == generic.PeriodFixed {
		pj.Period.Length = p.Args.Schedule.Length.String()
	}

	types := make([]rewards.ContributionType, 0, len(p.Rules))
	for t := range p.Rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		switch r := p.Rules[t].(type) {
		case generic.LinearAccrual:
			pj.ContributionTypes = append(pj.ContributionTypes, ContributionJSON{
				Type:   string(t),
				Rule:   string(generic.RuleLinear),
				Weight: WeightFromBps(r.WeightBps).String(),
			})
		case generic.FlatAccrual:
			pj.ContributionTypes = append(pj.ContributionTypes, ContributionJSON{
				Type:   string(t),
				Rule:   string(generic.RuleFlat),
				Points: r.PointsPerEvent,
			})
		default:
			return ProgramJSON{}, fmt.Errorf("contribution type %q: rule %T cannot be serialized", t, r)
		}
	}
	return pj, nil
}

// ParsePeriod converts a serialized schedule, as used by the program API.
func (f *ProgramFactory) ParsePeriod(pj PeriodJSON) (generic.PeriodConfig, error) {
	return parsePeriodConfig(pj)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePeriodConfig(pj PeriodJSON) (generic.PeriodConfig, error) {
	pc := generic.PeriodConfig{}
	switch pj.Type {
	case "", "manual":
		pc.Type = generic.PeriodManual
	case "calendar_month", "monthly":
		pc.Type = generic.PeriodCalendarMonth
	case "fixed":
		pc.Type = generic.PeriodFixed
		length, err := time.ParseDuration(pj.Length)
		if err != nil {
			return pc, fmt.Errorf("invalid period length %q: %w", pj.Length, err)
		}
		pc.Length = length
	default:
		return pc, fmt.Errorf("unknown period type: %s", pj.Type)
	}
	return pc, pc.Validate()
}

func parseRule(cj ContributionJSON) (generic.AccrualRule, error) {
	switch generic.AccrualRuleType(cj.Rule) {
	case generic.RuleLinear, "":
		weight := cj.Weight
		if weight == "" {
			weight = "1"
		}
		bps, err := WeightToBps(weight)
		if err != nil {
			return nil, err
		}
		return generic.LinearAccrual{WeightBps: bps}, nil
	case generic.RuleFlat:
		return generic.FlatAccrual{PointsPerEvent: cj.Points}, nil
	default:
		return nil, fmt.Errorf("unknown rule: %s", cj.Rule)
	}
}

var bpsScale = decimal.NewFromInt(int64(generic.BasisPoints))

// WeightToBps converts a decimal weight ("1.5") to basis points (15000).
func WeightToBps(weight string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(weight))
	if err != nil {
		return 0, fmt.Errorf("invalid weight %q: %w", weight, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("weight %q must not be negative", weight)
	}
	bps := d.Mul(bpsScale)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("weight %q is finer than one basis point", weight)
	}
	if !bps.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: weight %q", generic.ErrArithmeticOverflow, weight)
	}
	return bps.BigInt().Uint64(), nil
}

// WeightFromBps converts basis points back to a decimal weight.
func WeightFromBps(bps uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bps), 0).Div(bpsScale)
}
