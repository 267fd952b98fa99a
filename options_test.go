package procgroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nop(context.Context) error { return nil }

func TestValidateRejectsMalformedOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want string
	}{
		{name: "empty", opts: Options{}, want: "at least a primary or one worker"},
		{name: "primary without start", opts: Options{Primary: &Primary{Stop: nop}}, want: "primary: start hook is required"},
		{name: "worker without start", opts: Options{Workers: []Worker{{Name: "web"}}}, want: "workers[0] (web): start hook is required"},
		{name: "unknown type", opts: Options{Workers: []Worker{{Start: nop, Type: "thread"}}}, want: `unknown type "thread"`},
		{name: "negative count", opts: Options{Workers: []Worker{{Start: nop, Count: -1}}}, want: "count must not be negative"},
		{name: "negative grace", opts: Options{Grace: -time.Second, Workers: []Worker{{Start: nop}}}, want: "grace must not be negative"},
		{name: "negative startup timeout", opts: Options{Workers: []Worker{{Start: nop, StartupTimeout: -1}}}, want: "startup timeout must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.validate()
			require.ErrorIs(t, err, ErrInvalidOptions)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Options{
		Primary: &Primary{},
		Workers: []Worker{{Type: "thread"}, {Start: nop, Count: -2}},
	}.validate()
	require.ErrorIs(t, err, ErrInvalidOptions)
	for _, want := range []string{"primary:", "workers[0]: start hook", "workers[0]: unknown type", "workers[1]: count"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateAcceptsEachShape(t *testing.T) {
	shapes := map[string]Options{
		"primary only":           {Primary: &Primary{Start: nop}},
		"single worker":          {Workers: []Worker{{Start: nop}}},
		"worker array":           {Workers: []Worker{{Start: nop}, {Start: nop, Type: Isolated}}},
		"primary and one worker": {Primary: &Primary{Start: nop, Stop: nop}, Workers: []Worker{{Start: nop}}},
		"primary and array":      {Primary: &Primary{Start: nop}, Workers: []Worker{{Start: nop, Count: 3}, {Start: nop}}},
	}
	for name, opts := range shapes {
		assert.NoError(t, opts.validate(), name)
	}
}

func TestNormalizeExpandsCountsInOrder(t *testing.T) {
	plan := Options{
		Primary: &Primary{Start: nop},
		Workers: []Worker{
			{Name: "web", Start: nop, Count: 2, StartupTimeout: time.Second},
			{Start: nop, Type: Isolated, KillAfterCompleted: true},
		},
	}.normalize()

	require.NotNil(t, plan.Primary)
	assert.Equal(t, DefaultGrace, plan.Grace)
	require.Len(t, plan.Workers, 3)

	labels := make([]string, len(plan.Workers))
	for i, w := range plan.Workers {
		assert.Equal(t, i, w.Index)
		labels[i] = w.Label()
	}
	assert.Equal(t, []string{"web[0]", "web[1]", "worker-1[2]"}, labels)

	assert.Equal(t, SocketSharing, plan.Workers[0].Type)
	assert.Equal(t, time.Second, plan.Workers[1].StartupTimeout)
	assert.Equal(t, Isolated, plan.Workers[2].Type)
	assert.True(t, plan.Workers[2].KillAfterCompleted)
	assert.False(t, plan.Workers[0].KillAfterCompleted)
}

func TestNormalizeWithoutPrimary(t *testing.T) {
	plan := Options{Grace: 3 * time.Second, StopWhenWorkersExit: true, Workers: []Worker{{Start: nop}}}.normalize()
	assert.Nil(t, plan.Primary)
	assert.Equal(t, 3*time.Second, plan.Grace)
	assert.True(t, plan.StopWhenWorkersExit)
	assert.Len(t, plan.Workers, 1)
}

func TestNormalizeTreatsZeroCountAsOne(t *testing.T) {
	plan := Options{Workers: []Worker{{Name: "zero", Start: nop, Count: 0}, {Name: "one", Start: nop, Count: 1}}}.normalize()
	require.Len(t, plan.Workers, 2)
	assert.Equal(t, "zero[0]", plan.Workers[0].Label())
	assert.Equal(t, "one[1]", plan.Workers[1].Label())
}
