package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tolerance for comparisons involving two separate time.Now reads.
const tolerance = 0.5

func TestObserveComputesDelta(t *testing.T) {
	s := New()
	require.Zero(t, s.Delta())

	server := nowSeconds() + 120
	s.Observe(&server)

	assert.InDelta(t, 120, s.Delta(), tolerance)
	assert.Equal(t, server, s.LastObserved())
}

func TestObserveNilIsNoop(t *testing.T) {
	s := New()
	server := nowSeconds() - 42.5
	s.Observe(&server)
	before := s.Delta()

	s.Observe(nil)

	assert.Equal(t, before, s.Delta())
	assert.Equal(t, server, s.LastObserved())
}

func TestServerTimeInSystemIgnoresArgument(t *testing.T) {
	s := New()
	server := nowSeconds() + 300
	s.Observe(&server)

	// Wildly different arguments must produce the same answer: now
	// corrected by the last known delta.
	a := s.ServerTimeInSystem(0)
	b := s.ServerTimeInSystem(1e9)

	assert.InDelta(t, 0, a.Sub(b).Seconds(), tolerance)
	want := time.Now().Add(300 * time.Second)
	assert.InDelta(t, 0, a.Sub(want).Seconds(), tolerance)
}

func TestServerNowAppliesDelta(t *testing.T) {
	s := New()
	server := nowSeconds() - 60
	s.Observe(&server)

	assert.InDelta(t, nowSeconds()-60, s.ServerNow(), tolerance)
}

func TestZeroValueConversion(t *testing.T) {
	s := New()
	// No observation yet: conversion is just "now".
	got := s.ServerTimeInSystem(12345)
	assert.InDelta(t, 0, time.Since(got).Seconds(), tolerance)
}
