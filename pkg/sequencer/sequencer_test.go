package sequencer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	scores map[string]float64
	failed map[string]bool
	err    error
}

func (f *fakeHistory) Score(_ context.Context, projectID, testName string) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}

	s, ok := f.scores[projectID+"|"+testName]

	return s, ok, nil
}

func (f *fakeHistory) MostRecentRunFailed(_ context.Context, testName string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	return f.failed[testName], nil
}

var project = testctx.Project{Name: "p", RootDir: "/repo"}

func tests(names ...string) []sequencer.Test {
	out := make([]sequencer.Test, 0, len(names))
	for _, n := range names {
		out = append(out, sequencer.Test{Path: "/repo/" + n, Project: project})
	}

	return out
}

func names(ts []sequencer.Test) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Name())
	}

	return out
}

func newSequencer(h sequencer.History) *sequencer.Sequencer {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return sequencer.New(log, h)
}

func TestSequencer_Sort(t *testing.T) {
	tcs := []struct {
		name   string
		scores map[string]float64
		input  []string
		want   []string
	}{
		{
			name: "no history sorts first",
			scores: map[string]float64{
				"p|a.test.js": 10075,
				"p|c.test.js": 5,
			},
			input: []string{"a.test.js", "b.test.js", "c.test.js"},
			want:  []string{"b.test.js", "a.test.js", "c.test.js"},
		},
		{
			name: "ties keep input order",
			scores: map[string]float64{
				"p|x.test.js": 7,
				"p|y.test.js": 7,
				"p|z.test.js": 9,
			},
			input: []string{"x.test.js", "y.test.js", "z.test.js"},
			want:  []string{"z.test.js", "x.test.js", "y.test.js"},
		},
		{
			name:   "all unknown keeps order",
			scores: map[string]float64{},
			input:  []string{"m.test.js", "n.test.js"},
			want:   []string{"m.test.js", "n.test.js"},
		},
		{
			name: "other project history ignored",
			scores: map[string]float64{
				"q|a.test.js": 500,
				"p|b.test.js": 1,
			},
			input: []string{"b.test.js", "a.test.js"},
			want:  []string{"a.test.js", "b.test.js"},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			s := newSequencer(&fakeHistory{scores: tc.scores})

			got, err := s.Sort(context.Background(), tests(tc.input...))
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(got))
		})
	}
}

func TestSequencer_Scores(t *testing.T) {
	s := newSequencer(&fakeHistory{scores: map[string]float64{"p|a.test.js": 3}})

	scored, err := s.Scores(context.Background(), tests("a.test.js", "b.test.js"))
	require.NoError(t, err)
	require.Len(t, scored, 2)

	assert.True(t, scored[0].Known)
	assert.InDelta(t, 3.0, scored[0].Score, 1e-9)
	assert.False(t, scored[1].Known)
}

func TestSequencer_AllFailedTests(t *testing.T) {
	s := newSequencer(&fakeHistory{failed: map[string]bool{
		"a.test.js": true,
		"b.test.js": false,
		"d.test.js": true,
	}})

	got, err := s.AllFailedTests(
		context.Background(),
		tests("a.test.js", "b.test.js", "c.test.js", "d.test.js"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.test.js", "d.test.js"}, names(got))
}

func TestSequencer_HistoryErrors(t *testing.T) {
	boom := errors.New("database is locked")
	s := newSequencer(&fakeHistory{err: boom})
	ctx := context.Background()

	_, err := s.Sort(ctx, tests("a.test.js"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "/repo/a.test.js")

	_, err = s.AllFailedTests(ctx, tests("a.test.js"))
	require.ErrorIs(t, err, boom)
}
