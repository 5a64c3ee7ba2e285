package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/catalogd/internal/session"
	"github.com/loykin/catalogd/internal/session/sessiontest"
)

func newManager(l *sessiontest.Launcher, cfg session.Config) *session.Manager {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	if cfg.LivenessInterval == 0 {
		cfg.LivenessInterval = 10 * time.Millisecond
	}
	return session.NewManager(l, cfg, nil)
}

func TestAcquireRegistersAndClaimsOnce(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	m := newManager(l, session.Config{})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveCount())
	assert.True(t, s.Alive())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Claim("run-1"))
	assert.ErrorIs(t, s.Claim("run-2"), session.ErrOwned)
	assert.Equal(t, "run-1", s.Owner())

	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "run-1", infos[0].Owner)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, "closed", s.Reason())
	assert.True(t, l.Browsers()[0].Closed())
}

func TestAcquire_PoolFull(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	m := newManager(l, session.Config{MaxSessions: 1})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = m.Acquire(context.Background())
	var re *session.ResourceExhaustion
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, session.ErrPoolFull)
	assert.Equal(t, 1, re.Limit)
	assert.Equal(t, 1, l.Launches())
}

func TestAcquire_RetriesLaunch(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	l.FailLaunches.Store(2)
	m := newManager(l, session.Config{LaunchRetries: 2})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, 3, l.Launches())
}

func TestAcquire_LaunchErrorAfterRetries(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	l.FailLaunches.Store(5)
	m := newManager(l, session.Config{LaunchRetries: 1})

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	var re *session.ResourceExhaustion
	var le *session.LaunchError
	require.True(t, errors.As(err, &re))
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 2, le.Attempts)
	assert.Equal(t, 0, m.ActiveCount())

	// the failed reservation does not leak a slot
	l.FailLaunches.Store(0)
	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	_ = s.Close()
}

func TestDisconnectedSessionSelfRemoves(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	m := newManager(l, session.Config{})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	l.Browsers()[0].Crash()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not observe the crash")
	}
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, "disconnected", s.Reason())
	assert.False(t, s.Alive())
	// closing after a disconnect is a no-op
	assert.NoError(t, s.Close())
	_, err = s.NewPage(context.Background())
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestReleaseAllToleratesCloseErrors(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite(), CloseErr: errors.New("target closed")}
	m := newManager(l, session.Config{MaxSessions: 3})

	for i := 0; i < 3; i++ {
		_, err := m.Acquire(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.ActiveCount())

	m.ReleaseAll()
	assert.Equal(t, 0, m.ActiveCount())
	for _, b := range l.Browsers() {
		assert.True(t, b.Closed())
	}

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, session.ErrManagerClosed)
}

func TestAcquireRacingReleaseAll(t *testing.T) {
	for i := 0; i < 200; i++ {
		l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
		m := newManager(l, session.Config{})

		var s *session.Session
		var err error
		acquired := make(chan struct{})
		go func() {
			defer close(acquired)
			s, err = m.Acquire(context.Background())
		}()
		m.ReleaseAll()
		<-acquired

		if err != nil {
			require.ErrorIs(t, err, session.ErrManagerClosed)
		} else {
			// published before ReleaseAll took its snapshot, or refused after
			select {
			case <-s.Done():
			default:
				t.Fatalf("iteration %d: session acquired during shutdown stayed active", i)
			}
		}
		assert.Equal(t, 0, m.ActiveCount())
	}
}

func TestCheckEndsSessionOfDeadBrowser(t *testing.T) {
	l := &sessiontest.Launcher{Site: sessiontest.NewSite()}
	// long poll interval: only Check can notice the crash in time
	m := newManager(l, session.Config{LivenessInterval: time.Hour})

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Check(context.Background()))

	l.Browsers()[0].Crash()
	assert.False(t, s.Check(context.Background()))
	assert.Equal(t, "disconnected", s.Reason())
	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, s.Check(context.Background()))
}
