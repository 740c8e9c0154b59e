package bound

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHysteresisGtrThan reproduces spec.md §8 scenario S3: condition
// GTR_THAN, trip=30.0, hysteresis=1.0, consec=3. Three consecutive
// samples above trip fire ON; off requires three consecutive samples at
// or below trip-hysteresis (29.0).
func TestHysteresisGtrThan(t *testing.T) {
	b := NewBound(GtrThan, 30.0)

	for _, v := range []float64{30.5, 30.5} {
		fired := b.Evaluate(v, 1.0, 3)
		require.False(t, fired)
		require.False(t, b.Active())
	}
	fired := b.Evaluate(30.5, 1.0, 3)
	require.True(t, fired)
	require.True(t, b.Active())

	// Values above 29.0 (trip-hysteresis) must not trip the off path.
	for _, v := range []float64{30.2, 29.9, 29.5} {
		fired := b.Evaluate(v, 1.0, 3)
		require.False(t, fired)
		require.True(t, b.Active())
	}

	for _, v := range []float64{29.0, 28.5} {
		fired := b.Evaluate(v, 1.0, 3)
		require.False(t, fired)
	}
	fired = b.Evaluate(28.0, 1.0, 3)
	require.True(t, fired)
	require.False(t, b.Active())
}

func TestHysteresisLessThan(t *testing.T) {
	b := NewBound(LessThan, 10.0)

	require.False(t, b.Evaluate(9.0, 2.0, 2))
	require.True(t, b.Evaluate(9.0, 2.0, 2))
	require.True(t, b.Active())

	// Exit requires value >= trip+hysteresis = 12.0.
	require.False(t, b.Evaluate(11.0, 2.0, 2))
	require.True(t, b.Active())
	require.False(t, b.Evaluate(12.0, 2.0, 2))
	require.True(t, b.Evaluate(12.0, 2.0, 2))
	require.False(t, b.Active())
}

func TestNonConsecutiveResetsCounter(t *testing.T) {
	b := NewBound(GtrThan, 5.0)
	require.False(t, b.Evaluate(6.0, 0, 3))
	require.False(t, b.Evaluate(6.0, 0, 3))
	require.False(t, b.Evaluate(4.0, 0, 3)) // breaks the streak
	require.False(t, b.Evaluate(6.0, 0, 3))
	require.False(t, b.Active())
}

func TestChangingConditionResetsCounts(t *testing.T) {
	b := NewBound(GtrThan, 5.0)
	b.Evaluate(6.0, 0, 3)
	require.Equal(t, 1, b.OnCount())

	b.SetCondition(LessThan)
	require.Equal(t, 0, b.OnCount())
	require.Equal(t, 0, b.OffCount())
}

func TestAlertBoundDispatchRespectsEnabled(t *testing.T) {
	a := AlertBound{Bound: NewBound(GtrThan, 5.0), Enabled: false}
	fired := a.Evaluate(6.0, 0, 1)
	require.True(t, fired)
	require.False(t, a.ShouldDispatch(fired))

	a.Enabled = true
	a2 := AlertBound{Bound: NewBound(GtrThan, 5.0), Enabled: true}
	fired2 := a2.Evaluate(6.0, 0, 1)
	require.True(t, a2.ShouldDispatch(fired2))
}
