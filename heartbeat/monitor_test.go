// go-termlink
// Copyright (c) 2025 The Termlink Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-termlink.
//
// go-termlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-termlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-termlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// probeAttempt is one send observed by the fake prober.
type probeAttempt struct {
	token string
	err   error
}

// probeSender records every probe the monitor hands it.
type probeSender struct {
	attempts chan probeAttempt
	fail     chan error
}

func newProbeSender() *probeSender {
	s := &probeSender{
		attempts: make(chan probeAttempt, 64),
		fail:     make(chan error, 1),
	}
	s.fail <- nil
	return s
}

func (s *probeSender) Send(_ context.Context, token string) error {
	err := <-s.fail
	s.fail <- err
	s.attempts <- probeAttempt{token: token, err: err}
	return err
}

func (s *probeSender) FailWith(err error) {
	<-s.fail
	s.fail <- err
}

func waitAttempt(t *testing.T, s *probeSender) probeAttempt {
	t.Helper()
	select {
	case a := <-s.attempts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("probe never sent")
		return probeAttempt{}
	}
}

// fastConfig probes quickly and never expires responses on its own.
func fastConfig() Config {
	return Config{
		Interval:        10 * time.Millisecond,
		SendTimeout:     time.Second,
		ResponseTimeout: time.Hour,
		MaxMisses:       100,
	}
}

func startMonitor(t *testing.T, s *probeSender, cfg Config) *Monitor {
	t.Helper()
	m := New(s.Send, cfg)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

// outstanding reports how many probes await a response.
func (m *Monitor) outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func TestStart_NoSender(t *testing.T) {
	m := New(nil, Config{})
	assert.ErrorIs(t, m.Start(context.Background()), ErrNoSender)
}

func TestStart_Twice(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
}

func TestProbe_SendsOnIntervalWithUniqueTokens(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())

	first := waitAttempt(t, s)
	second := waitAttempt(t, s)
	third := waitAttempt(t, s)

	assert.NotEmpty(t, first.token)
	assert.NotEqual(t, first.token, second.token)
	assert.NotEqual(t, second.token, third.token)

	st := m.Snapshot()
	assert.GreaterOrEqual(t, st.Sent, uint64(3))
	assert.False(t, st.LastProbeAt.IsZero())
}

func TestObserveResponse_MatchesOutstandingProbe(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())

	attempt := waitAttempt(t, s)
	// The probe is armed once the send returns; poll until it lands.
	assert.Eventually(t, func() bool {
		return m.ObserveResponse(attempt.token)
	}, time.Second, time.Millisecond)

	// Consumed tokens and unknown tokens are both rejected.
	assert.False(t, m.ObserveResponse(attempt.token))
	assert.False(t, m.ObserveResponse("not-a-probe"))

	st := m.Snapshot()
	assert.Equal(t, uint64(1), st.Received)
	assert.Zero(t, st.ConsecutiveMisses)
	assert.Positive(t, st.AvgRTT)
	assert.False(t, st.LastResponseAt.IsZero())
}

func TestMissedResponse_ReportsTimeout(t *testing.T) {
	s := newProbeSender()
	cfg := fastConfig()
	cfg.ResponseTimeout = 5 * time.Millisecond

	timeouts := make(chan int, 32)
	m := New(s.Send, cfg)
	m.OnTimeout = func(c int) {
		select {
		case timeouts <- c:
		default:
		}
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	assert.Equal(t, 1, <-timeouts)
	assert.Equal(t, 2, <-timeouts)
}

func TestConsecutiveMisses_ReportFailed(t *testing.T) {
	s := newProbeSender()
	cfg := fastConfig()
	cfg.ResponseTimeout = 5 * time.Millisecond
	cfg.MaxMisses = 2

	timeouts := make(chan int, 32)
	failures := make(chan int, 32)
	m := New(s.Send, cfg)
	m.OnTimeout = func(c int) {
		select {
		case timeouts <- c:
		default:
		}
	}
	m.OnFailed = func(c int) {
		select {
		case failures <- c:
		default:
		}
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	assert.Equal(t, 1, <-timeouts)
	assert.Equal(t, 2, <-failures)
}

func TestSendFailure_CountsAsMiss(t *testing.T) {
	s := newProbeSender()
	s.FailWith(errors.New("wire jammed"))

	timeouts := make(chan int, 32)
	m := New(s.Send, fastConfig())
	m.OnTimeout = func(c int) {
		select {
		case timeouts <- c:
		default:
		}
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	assert.Equal(t, 1, <-timeouts)
	assert.GreaterOrEqual(t, m.Snapshot().Sent, uint64(1))
}

func TestResponse_ResetsConsecutiveMisses(t *testing.T) {
	s := newProbeSender()
	cfg := fastConfig()
	cfg.ResponseTimeout = 5 * time.Millisecond
	m := startMonitor(t, s, cfg)

	assert.Eventually(t, func() bool {
		return m.Snapshot().ConsecutiveMisses >= 2
	}, time.Second, time.Millisecond)

	// Widen the response window, let any probe armed under the old window
	// expire, then answer a fresh probe.
	cfg.ResponseTimeout = time.Hour
	m.SetConfig(cfg)
	time.Sleep(20 * time.Millisecond)
	for len(s.attempts) > 0 {
		<-s.attempts
	}
	attempt := waitAttempt(t, s)
	assert.Eventually(t, func() bool {
		return m.ObserveResponse(attempt.token)
	}, time.Second, time.Millisecond)

	assert.Zero(t, m.Snapshot().ConsecutiveMisses)
}

func TestSetConfig_DiscardsOutstandingProbes(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())

	attempt := waitAttempt(t, s)
	assert.Eventually(t, func() bool {
		return m.IsRunning() && m.outstanding() > 0
	}, time.Second, time.Millisecond)

	m.SetConfig(fastConfig())
	assert.False(t, m.ObserveResponse(attempt.token))

	// The loop keeps probing under the new parameters.
	for len(s.attempts) > 0 {
		<-s.attempts
	}
	waitAttempt(t, s)
}

func TestStop_HaltsProbing(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())

	waitAttempt(t, s)
	m.Stop()
	assert.False(t, m.IsRunning())

	for len(s.attempts) > 0 {
		<-s.attempts
	}
	select {
	case a := <-s.attempts:
		t.Fatalf("probe sent after stop: %q", a.token)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStop_Idempotent(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())
	m.Stop()
	m.Stop()
}

func TestStop_ThenRestart(t *testing.T) {
	s := newProbeSender()
	m := startMonitor(t, s, fastConfig())
	waitAttempt(t, s)
	m.Stop()

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	waitAttempt(t, s)
}

func TestContextCancel_StopsLoop(t *testing.T) {
	s := newProbeSender()
	ctx, cancel := context.WithCancel(context.Background())
	m := New(s.Send, fastConfig())
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	waitAttempt(t, s)
	cancel()
	assert.Eventually(t, func() bool { return !m.IsRunning() }, time.Second, time.Millisecond)
}
