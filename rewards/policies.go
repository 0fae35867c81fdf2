/*
policies.go - Pre-built program configurations

PURPOSE:
  Provides ready-to-use rule sets and initialization arguments for common
  contributor programs. Each preset pairs InitializeArgs with a RuleSet.

AVAILABLE PROGRAMS:
  OpenSourceProgram:
    - Weighted by magnitude (lines reviewed, issues triaged...)
    - Monthly calendar periods

  DataProgram:
    - Dataset labelling and model training, flat per-task constants
    - Fixed-length periods

  DefaultRules:
    - One point per unit of magnitude for every built-in type

  PresetProgram selects one of them by name ("default", "open-source",
  "data"); the server's program.preset setting goes through it.

SEE ALSO:
  - calculator.go: How rules are applied
  - factory/program.go: JSON/YAML program definitions
*/
package rewards

import (
	"fmt"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// ProgramConfig bundles initialization arguments with the program's rules.
type ProgramConfig struct {
	Name  string
	Args  InitializeArgs
	Rules RuleSet
}

// DefaultRules awards one point per unit of magnitude for every built-in type.
func DefaultRules() RuleSet {
	rules := RuleSet{}
	for _, t := range []ContributionType{
		TypeCodeCommit, TypePullRequest, TypeCodeReview, TypeBugReport,
		TypeDocumentation, TypeCommunitySupport, TypeDatasetLabel, TypeModelTraining,
	} {
		rules[t] = generic.LinearAccrual{WeightBps: generic.BasisPoints}
	}
	return rules
}

// OpenSourceProgram creates a code-contribution program with monthly periods.
func OpenSourceProgram(monthlyThreshold, maxPerType uint64, reserveRatio uint16) ProgramConfig {
	return ProgramConfig{
		Name: "open-source",
		Args: InitializeArgs{
			MonthlyThreshold: monthlyThreshold,
			ReserveRatio:     reserveRatio,
			MaxPointsPerType: maxPerType,
			Schedule:         generic.PeriodConfig{Type: generic.PeriodCalendarMonth},
		},
		Rules: RuleSet{
			TypeCodeCommit:       generic.LinearAccrual{WeightBps: 5_000},  // 0.5 per line-unit
			TypePullRequest:      generic.LinearAccrual{WeightBps: 20_000}, // 2 per unit
			TypeCodeReview:       generic.LinearAccrual{WeightBps: 15_000},
			TypeBugReport:        generic.FlatAccrual{PointsPerEvent: 25},
			TypeDocumentation:    generic.LinearAccrual{WeightBps: 10_000},
			TypeCommunitySupport: generic.FlatAccrual{PointsPerEvent: 5},
		},
	}
}

// DataProgram creates a data-labelling program with fixed-length periods.
func DataProgram(monthlyThreshold, maxPerType uint64, reserveRatio uint16, period time.Duration) ProgramConfig {
	return ProgramConfig{
		Name: "data",
		Args: InitializeArgs{
			MonthlyThreshold: monthlyThreshold,
			ReserveRatio:     reserveRatio,
			MaxPointsPerType: maxPerType,
			Schedule:         generic.PeriodConfig{Type: generic.PeriodFixed, Length: period},
		},
		Rules: RuleSet{
			TypeDatasetLabel:  generic.FlatAccrual{PointsPerEvent: 2},
			TypeModelTraining: generic.LinearAccrual{WeightBps: 25_000},
			TypeBugReport:     generic.FlatAccrual{PointsPerEvent: 10},
		},
	}
}

// Preset names accepted by PresetProgram.
const (
	PresetDefault    = "default"
	PresetOpenSource = "open-source"
	PresetData       = "data"
)

// PresetProgram returns the named preset with the caps, ratio and initial
// reserve taken from args. The default preset also keeps args' schedule;
// the open-source preset runs on calendar months and the data preset needs
// a fixed schedule in args.
func PresetProgram(name string, args InitializeArgs) (ProgramConfig, error) {
	var p ProgramConfig
	switch name {
	case "", PresetDefault:
		return ProgramConfig{Name: PresetDefault, Args: args, Rules: DefaultRules()}, nil
	case PresetOpenSource:
		p = OpenSourceProgram(args.MonthlyThreshold, args.MaxPointsPerType, args.ReserveRatio)
	case PresetData:
		if args.Schedule.Type != generic.PeriodFixed || args.Schedule.Length <= 0 {
			return ProgramConfig{}, fmt.Errorf("preset %q requires a fixed period with a length", name)
		}
		p = DataProgram(args.MonthlyThreshold, args.MaxPointsPerType, args.ReserveRatio, args.Schedule.Length)
	default:
		return ProgramConfig{}, fmt.Errorf("unknown program preset %q", name)
	}
	p.Args.InitialReserve = args.InitialReserve
	return p, nil
}

// DefaultProgramJSON returns a JSON program definition equivalent to
// OpenSourceProgram, for use with factory.ParseProgram.
func DefaultProgramJSON(name string, monthlyThreshold, maxPerType uint64, reserveRatio uint16) string {
	return fmt.Sprintf(`{
  "name": %q,
  "monthly_threshold": %d,
  "max_points_per_type": %d,
  "reserve_ratio_bps": %d,
  "period": {"type": "calendar_month"},
  "contribution_types": [
    {"type": "code_commit", "rule": "linear", "weight": "0.5"},
    {"type": "pull_request", "rule": "linear", "weight": "2"},
    {"type": "code_review", "rule": "linear", "weight": "1.5"},
    {"type": "bug_report", "rule": "flat", "points": 25},
    {"type": "documentation", "rule": "linear", "weight": "1"},
    {"type": "community_support", "rule": "flat", "points": 5}
  ]
}`, name, monthlyThreshold, maxPerType, reserveRatio)
}
