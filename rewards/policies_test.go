package rewards_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

func TestPresetProgram(t *testing.T) {
	week := 7 * 24 * time.Hour
	args := rewards.InitializeArgs{
		MonthlyThreshold: 1000,
		ReserveRatio:     5000,
		MaxPointsPerType: 400,
		InitialReserve:   50_000,
		Schedule:         generic.PeriodConfig{Type: generic.PeriodFixed, Length: week},
	}

	t.Run("default keeps the schedule", func(t *testing.T) {
		p, err := rewards.PresetProgram("", args)
		require.NoError(t, err)
		assert.Equal(t, rewards.PresetDefault, p.Name)
		assert.Equal(t, args, p.Args)
		assert.Equal(t, rewards.DefaultRules(), p.Rules)
	})

	t.Run("open-source runs monthly", func(t *testing.T) {
		p, err := rewards.PresetProgram(rewards.PresetOpenSource, args)
		require.NoError(t, err)
		assert.Equal(t, generic.PeriodCalendarMonth, p.Args.Schedule.Type)
		assert.Equal(t, uint64(50_000), p.Args.InitialReserve)
		assert.Equal(t, generic.FlatAccrual{PointsPerEvent: 25}, p.Rules[rewards.TypeBugReport])
	})

	t.Run("data uses the fixed length", func(t *testing.T) {
		p, err := rewards.PresetProgram(rewards.PresetData, args)
		require.NoError(t, err)
		assert.Equal(t, generic.PeriodConfig{Type: generic.PeriodFixed, Length: week}, p.Args.Schedule)
		assert.Equal(t, uint64(50_000), p.Args.InitialReserve)
		assert.Contains(t, p.Rules, rewards.TypeDatasetLabel)
		assert.NotContains(t, p.Rules, rewards.TypePullRequest)
	})

	t.Run("data without a fixed schedule", func(t *testing.T) {
		monthly := args
		monthly.Schedule = generic.PeriodConfig{Type: generic.PeriodCalendarMonth}
		_, err := rewards.PresetProgram(rewards.PresetData, monthly)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := rewards.PresetProgram("karaoke", args)
		assert.Error(t, err)
	})
}

func TestDataProgram_AwardsFlatPerTask(t *testing.T) {
	// GIVEN: An engine running the data preset
	p := rewards.DataProgram(1000, 400, 5000, 24*time.Hour)
	p.Args.InitialReserve = 1000
	f := newFixture(t, p.Args)
	f.engine.WithRules(p.Rules)
	f.contributor(t, "alice", true)

	// WHEN: alice labels a batch and reports a pull request
	res := f.record(t, "alice", rewards.TypeDatasetLabel, 300)
	_, err := f.engine.Record(f.ctx, rewards.RecordInput{
		ContributorID: "alice",
		Actor:         "alice",
		Type:          rewards.TypePullRequest,
		Magnitude:     10,
	})

	// THEN: The label is worth its flat 2 points; pull requests have no rule
	assert.Equal(t, uint64(2), res.PointsAwarded)
	requireOperationError(t, err, generic.ErrInvalidContributionType, "record")
}
