package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIDExplicit(t *testing.T) {
	l := NewLog()
	id, err := l.ResolveID("1526985054069-3", 0)
	require.NoError(t, err)
	require.Equal(t, ID{1526985054069, 3}, id)
	require.Equal(t, "1526985054069-3", id.String())
}

func TestResolveIDPartial(t *testing.T) {
	l := NewLog()
	id, err := l.ResolveID("1526985054069", 0)
	require.NoError(t, err)
	require.Equal(t, ID{1526985054069, 0}, id)
}

func TestAppendMonotonicity(t *testing.T) {
	l := NewLog()
	id1, err := l.Append([]Field{{Name: "k", Value: "v"}}, "1-1", 0)
	require.NoError(t, err)

	_, err = l.Append([]Field{{Name: "k", Value: "v"}}, "1-1", 0)
	require.ErrorIs(t, err, ErrStreamIDMustBeGreater)

	_, err = l.Append([]Field{{Name: "k", Value: "v"}}, "1-0", 0)
	require.ErrorIs(t, err, ErrStreamIDMustBeGreater)

	id2, err := l.Append([]Field{{Name: "k", Value: "v"}}, "2-0", 0)
	require.NoError(t, err)
	require.True(t, id1.Less(id2))
}

func TestAppendRejectsZeroID(t *testing.T) {
	l := NewLog()
	_, err := l.Append([]Field{{Name: "k", Value: "v"}}, "0-0", 0)
	require.ErrorIs(t, err, ErrStreamIDMustBeNonZero)
}

func TestAppendStarAdvancesPastNow(t *testing.T) {
	l := NewLog()
	id1, err := l.Append(nil, "5-5", 1)
	require.NoError(t, err)
	require.Equal(t, ID{5, 5}, id1)

	// now (ms=1) is behind the last entry's timestamp, so "*" must still
	// move forward via the same-timestamp/seq+1 rule.
	id2, err := l.Append(nil, "*", 1)
	require.NoError(t, err)
	require.Equal(t, ID{5, 6}, id2)
}

func TestRangeInclusiveBothEnds(t *testing.T) {
	l := NewLog()
	_, _ = l.Append(nil, "1-1", 0)
	_, _ = l.Append(nil, "2-1", 0)
	_, _ = l.Append(nil, "3-1", 0)

	entries, err := l.Range("2-1", "3-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "2-1", entries[0].ID.String())
	require.Equal(t, "3-1", entries[1].ID.String())
}

func TestTailStrictlyGreater(t *testing.T) {
	l := NewLog()
	_, _ = l.Append(nil, "1-1", 0)
	_, _ = l.Append(nil, "2-1", 0)

	entries, err := l.Tail("1-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "2-1", entries[0].ID.String())
}
