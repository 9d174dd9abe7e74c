package fiber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeYieldRoundTrip(t *testing.T) {
	s := NewSched()

	var got []int64
	f := Create(s, 0, func(param any) int64 {
		got = append(got, param.(int64))
		got = append(got, s.Yield(100))
		got = append(got, s.Yield(200))
		return 300
	}, int64(7))

	v, err := s.Resume(f, 1) // first resume value is discarded; proc gets param
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
	assert.False(t, f.IsExited())

	v, err = s.Resume(f, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v)

	v, err = s.Resume(f, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v)
	assert.True(t, f.IsExited())

	// param, then the values passed to the second and third resumes
	assert.Equal(t, []int64{7, 2, 3}, got)

	f.Delete()
}

func TestResumeExited(t *testing.T) {
	s := NewSched()
	f := Create(s, 0, func(any) int64 { return 1 }, nil)

	v, err := s.Resume(f, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.True(t, f.IsExited())

	_, err = s.Resume(f, 0)
	assert.ErrorIs(t, err, ErrExited)

	f.Delete()
}

func TestResumeNotInited(t *testing.T) {
	s := NewSched()
	var f Fiber
	_, err := s.Resume(&f, 0)
	assert.ErrorIs(t, err, ErrNotInited)
}

func TestInitReusesFiber(t *testing.T) {
	s := NewSched()

	f := Create(s, 0, func(any) int64 { return 1 }, nil)
	v, err := s.Resume(f, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
	require.True(t, f.IsExited())

	f.Init(func(any) int64 { return 2 }, nil)
	require.False(t, f.IsExited())

	v, err = s.Resume(f, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.True(t, f.IsExited())

	f.Delete()
}

func TestNilParamIsFiberItself(t *testing.T) {
	s := NewSched()

	var seen any
	f := Create(s, 0, func(param any) int64 {
		seen = param
		return 0
	}, nil)

	_, err := s.Resume(f, 0)
	require.NoError(t, err)
	assert.Same(t, f, seen)

	f.Delete()
}

func TestNestedResume(t *testing.T) {
	s := NewSched()

	inner := Create(s, 0, func(any) int64 {
		return s.Yield(10) + 1
	}, nil)

	outer := Create(s, 0, func(any) int64 {
		v, err := s.Resume(inner, 0)
		if err != nil || v != 10 {
			return -1
		}
		v = s.Yield(v)
		v2, err := s.Resume(inner, v)
		if err != nil {
			return -1
		}
		return v2
	}, nil)

	v, err := s.Resume(outer, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	// outer is suspended; inner is suspended inside outer's first resume
	v, err = s.Resume(outer, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(21), v)
	assert.True(t, outer.IsExited())
	assert.True(t, inner.IsExited())

	outer.Delete()
	inner.Delete()
}

func TestDeleteNeverResumed(t *testing.T) {
	s := NewSched()
	f := Create(s, 0, func(any) int64 { return 0 }, nil)
	f.Delete()
}

func TestRunningFiber(t *testing.T) {
	s := NewSched()
	require.Nil(t, s.Running())

	var inside *Fiber
	f := Create(s, 0, func(any) int64 {
		inside = s.Running()
		return 0
	}, nil)

	_, err := s.Resume(f, 0)
	require.NoError(t, err)
	assert.Same(t, f, inside)
	assert.Nil(t, s.Running())

	f.Delete()
}

func TestStackSizeRecorded(t *testing.T) {
	s := NewSched()
	f := Create(s, 64*1024, func(any) int64 { return 0 }, nil)
	assert.Equal(t, 64*1024, f.StackSize())
	_, err := s.Resume(f, 0)
	require.NoError(t, err)
	f.Delete()
}
