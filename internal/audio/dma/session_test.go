package dma

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
)

func newTestBuffer(t *testing.T, cfg *Config) *buffer.StreamBuffer {
	t.Helper()
	buf, err := buffer.NewStreamBuffer(make([]byte, cfg.BufferBytes()), cfg.PeriodBytes, cfg.Periods)
	require.NoError(t, err)
	return buf
}

func openTestSession(t *testing.T, cfg *Config, deps Deps) (*Registry, *Session) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = audio.NopLogger{}
	}
	reg := NewRegistryWithDeps(audio.NopLogger{})
	s, err := reg.Open(cfg, newTestBuffer(t, cfg), deps)
	require.NoError(t, err)
	return reg, s
}

// startedSession opens a 4x4096 playback session over a fake channel and starts it.
func startedSession(t *testing.T) (*Session, *fakeChannel, *MockNotifier) {
	t.Helper()

	ch := newFakeChannel()
	notifier := new(MockNotifier)
	notifier.On("PeriodElapsed").Return()

	_, s := openTestSession(t, NewDefaultConfig(), Deps{
		Channels: &fakeAllocator{ch: ch},
		Notifier: notifier,
	})
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	return s, ch, notifier
}

func TestSession_Start_PrefillsAndCompletionRearms(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)

	assert.Equal(t, audio.StateInit, s.State())
	assert.Equal(t, []int{0, 4096}, ch.submittedOffsets())
	assert.Equal(t, 8192, s.WritePos())
	assert.Equal(t, 2, s.InFlight())

	tok := ch.completeNext()
	assert.Equal(t, audio.Token{Session: s.ID(), Slot: 0, Gen: 1}, tok)

	assert.Equal(t, 1, s.PeriodIndex())
	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 1)
	assert.Equal(t, []int{0, 4096, 8192}, ch.submittedOffsets())
	assert.Equal(t, 12288, s.WritePos())
	assert.Equal(t, 2, s.InFlight())

	head, tail := s.QueueIndices()
	assert.Equal(t, 1, head)
	assert.Equal(t, 0, tail)
	assert.NoError(t, s.Err())
}

func TestSession_Start_DescriptorFields(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	cfg := NewDefaultConfig()
	cfg.Direction = audio.Capture
	cfg.FIFOAddr = 0x70002000

	_, s := openTestSession(t, cfg, Deps{Channels: &fakeAllocator{ch: ch}})
	require.NoError(t, s.Start())

	require.Len(t, ch.submitted, 2)
	d := ch.submitted[1]
	assert.Equal(t, 4096, d.Offset)
	assert.Equal(t, 4096, d.Length)
	assert.Equal(t, audio.Capture, d.Direction)
	assert.True(t, d.ToMemory())
	assert.Equal(t, uintptr(0x70002000), d.FIFOAddr)
	assert.Equal(t, s.Buffer().Base()+4096, d.Addr)
	assert.Len(t, d.Data, 4096)
}

func TestSession_Stop_WithdrawsOutstanding(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)
	require.Len(t, ch.pendingTokens(), 2)

	// The engine finishes the head descriptor but its completion has not
	// reached the session when Stop runs.
	late := ch.finishNext()

	require.NoError(t, s.Stop())

	assert.Equal(t, audio.StateAbort, s.State())
	assert.Equal(t, 2, ch.withdrawnCount())
	assert.Empty(t, ch.pendingTokens())
	assert.Equal(t, 0, s.InFlight())
	head, tail := s.QueueIndices()
	assert.Equal(t, 0, head)
	assert.Equal(t, 1, tail)

	// The completion that lost the race against the withdrawal.
	ch.deliver(late)

	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 0)
	assert.Equal(t, 0, s.PeriodIndex())
	assert.Len(t, ch.submitted, 2, "no new work after stop")
	assert.NoError(t, s.Err())
	assert.Equal(t, audio.StateAbort, s.State())
}

func TestSession_Complete_WithdrawnTokenCountsOnce(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)
	late := ch.finishNext()

	require.NoError(t, s.Stop())

	ch.deliver(late)
	assert.Equal(t, 0, s.PeriodIndex())
	assert.NoError(t, s.Err())

	// The withdrawal already consumed this generation, a second delivery is a violation.
	ch.deliver(late)
	assert.Equal(t, 0, s.PeriodIndex())
	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 0)
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Equal(t, audio.StateExit, s.State())
}

func TestSession_Complete_RemovedTokenIsViolation(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)
	outstanding := ch.pendingTokens()
	require.Len(t, outstanding, 2)

	// Both descriptors are still queued, so the engine removes them.
	require.NoError(t, s.Stop())
	require.Empty(t, ch.pendingTokens())

	// A descriptor the engine dropped can never complete.
	ch.deliver(outstanding[1])

	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 0)
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Equal(t, audio.StateExit, s.State())
}

func TestSession_Prepare_ResetsAfterStop(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	ch.completeNext()
	ch.completeNext()
	require.Equal(t, 2, s.PeriodIndex())
	require.Equal(t, 0, s.WritePos())

	require.NoError(t, s.Stop())

	require.NoError(t, s.Prepare())
	assert.Equal(t, 0, s.WritePos())
	assert.Equal(t, 0, s.PeriodIndex())
	head, tail := s.QueueIndices()
	assert.Equal(t, 0, head)
	assert.Equal(t, 1, tail)
	assert.Equal(t, audio.StateAbort, s.State())
}

func TestSession_Start_ResumeContinuesWithoutPrepare(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	ch.completeNext()
	require.Equal(t, 12288, s.WritePos())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())

	// Writing resumes where the cursor stood, wrapping at the buffer end.
	assert.Equal(t, []int{0, 4096, 8192, 12288, 0}, ch.submittedOffsets())
	assert.Equal(t, 4096, s.WritePos())
	assert.Equal(t, 1, s.PeriodIndex())

	tok := ch.pendingTokens()[0]
	assert.Equal(t, 0, tok.Slot)
	assert.Equal(t, uint64(3), tok.Gen)
}

func TestSession_Start_ResumeRestartsAfterPrepare(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	ch.completeNext()

	require.NoError(t, s.Stop())
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())

	assert.Equal(t, []int{0, 4096, 8192, 0, 4096}, ch.submittedOffsets())
	assert.Equal(t, 8192, s.WritePos())
	assert.Equal(t, 0, s.PeriodIndex())
}

func TestSession_Stop_Idempotent(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, 2, ch.withdrawnCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 2, ch.withdrawnCount(), "nothing left to withdraw on close")
	assert.True(t, ch.released)
	require.NoError(t, s.Close())
}

func TestSession_InFlightNeverExceedsSlots(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)

	for i := 0; i < 50; i++ {
		ch.completeNext()
		assert.LessOrEqual(t, s.InFlight(), 2)
		assert.Less(t, s.WritePos(), s.Buffer().Size())
	}
	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 50)
	assert.Equal(t, 50%4, s.PeriodIndex())

	// Forcing another enqueue onto a full queue is refused.
	s.mu.Lock()
	err := s.enqueueNext()
	s.mu.Unlock()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestSession_Complete_OutOfOrder(t *testing.T) {
	t.Parallel()

	s, ch, notifier := startedSession(t)
	second := ch.pendingTokens()[1]

	ch.deliver(second)

	assert.Equal(t, audio.StateExit, s.State())
	notifier.AssertNumberOfCalls(t, "PeriodElapsed", 0)

	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, ErrProtocolViolation)
	default:
		t.Fatal("expected an escalated error")
	}

	// Closing after a violation still tears the channel down.
	require.NoError(t, s.Close())
	assert.Equal(t, 2, ch.withdrawnCount())
	assert.True(t, ch.released)
}

func TestSession_Complete_ViolationReleasesResources(t *testing.T) {
	// Create mocks
	ch := newFakeChannel()
	mockInhibit := new(MockInhibit)

	// Setup expectations
	mockInhibit.On("Acquire").Return(nil).Once()
	mockInhibit.On("Release").Return().Once()

	_, s := openTestSession(t, NewDefaultConfig(), Deps{
		Channels: &fakeAllocator{ch: ch},
		Inhibit:  mockInhibit,
	})
	require.NoError(t, s.Start())
	require.Len(t, ch.pendingTokens(), 2)

	// Execute
	ch.deliver(ch.pendingTokens()[1])

	// Assert
	assert.Equal(t, audio.StateExit, s.State())
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Equal(t, 0, s.InFlight())
	assert.Empty(t, ch.pendingTokens(), "nothing left queued in the engine")
	assert.Equal(t, 2, ch.withdrawnCount())
	mockInhibit.AssertExpectations(t)

	// Close has nothing left to withdraw or release.
	require.NoError(t, s.Close())
	assert.Equal(t, 2, ch.withdrawnCount())
	mockInhibit.AssertNumberOfCalls(t, "Release", 1)
}

func TestSession_Complete_StaleGeneration(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	tok := ch.completeNext()
	require.Equal(t, 1, s.PeriodIndex())

	// Slot 0 is in flight again under a newer generation.
	ch.deliver(tok)

	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Equal(t, audio.StateExit, s.State())
	assert.Equal(t, 1, s.PeriodIndex())
}

func TestSession_Complete_InvalidSlot(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	ch.deliver(audio.Token{Session: s.ID(), Slot: 7, Gen: 1})

	var se *StreamError
	require.ErrorAs(t, s.Err(), &se)
	assert.Equal(t, KindProtocolViolation, se.Kind)
	assert.Equal(t, s.ID(), se.Session)

	err := s.Start()
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_Errors_QueueOverflowDropsAndClose(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	cfg := NewDefaultConfig()
	cfg.ErrorQueueSize = 1

	_, s := openTestSession(t, cfg, Deps{Channels: &fakeAllocator{ch: ch}})
	require.NoError(t, s.Start())

	ch.deliver(audio.Token{Session: s.ID(), Slot: 9})
	first := s.Err()
	ch.deliver(audio.Token{Session: s.ID(), Slot: 10})

	assert.Same(t, first, s.Err(), "first error is sticky")

	require.NoError(t, s.Close())

	var got []error
	for err := range s.Errors() {
		got = append(got, err)
	}
	require.Len(t, got, 1)
	assert.Same(t, first, got[0])
}

func TestSession_Stop_WithdrawalFailure(t *testing.T) {
	// Create mocks
	mockChannel := new(MockChannel)
	mockAllocator := new(MockChannelAllocator)
	engineErr := errors.New("engine stalled")

	// Setup expectations
	mockAllocator.On("AllocateChannel", audio.Playback, mock.Anything).Return(mockChannel, nil)
	mockChannel.On("Submit", mock.Anything).Return(audio.Handle(11), nil).Once()
	mockChannel.On("Submit", mock.Anything).Return(audio.Handle(12), nil).Once()
	mockChannel.On("Withdraw", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(engineErr)
	mockChannel.On("Release").Return(nil)

	_, s := openTestSession(t, NewDefaultConfig(), Deps{Channels: mockAllocator})
	require.NoError(t, s.Start())

	// Execute
	err := s.Stop()

	// Assert
	assert.ErrorIs(t, err, ErrWithdrawalFailure)
	assert.ErrorIs(t, err, engineErr)
	assert.Equal(t, audio.StateAbort, s.State())
	head, tail := s.QueueIndices()
	assert.Equal(t, 0, head)
	assert.Equal(t, 1, tail)
	assert.Equal(t, 0, s.InFlight())

	require.NoError(t, s.Close())
	mockChannel.AssertNumberOfCalls(t, "Withdraw", 2)
	mockChannel.AssertExpectations(t)
	mockAllocator.AssertExpectations(t)
}

func TestSession_Start_SubmitFailure(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.submitErr = errors.New("descriptor rejected")

	_, s := openTestSession(t, NewDefaultConfig(), Deps{Channels: &fakeAllocator{ch: ch}})

	err := s.Start()
	assert.ErrorIs(t, err, ErrSubmitFailure)
	assert.Equal(t, 0, s.InFlight())
	assert.Equal(t, 8192, s.WritePos(), "cursor advances regardless of submission outcome")
}

func TestSession_InhibitHeldWhileRunning(t *testing.T) {
	// Create mocks
	mockInhibit := new(MockInhibit)

	// Setup expectations
	mockInhibit.On("Acquire").Return(nil).Twice()
	mockInhibit.On("Release").Return().Twice()

	_, s := openTestSession(t, NewDefaultConfig(), Deps{
		Channels: &fakeAllocator{ch: newFakeChannel()},
		Inhibit:  mockInhibit,
	})

	// Execute
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Close())

	// Assert
	mockInhibit.AssertExpectations(t)
}

func TestSession_InhibitAcquireFailureIsNotFatal(t *testing.T) {
	// Create mocks
	mockInhibit := new(MockInhibit)
	mockLogger := new(MockLogger)

	// Setup expectations
	mockInhibit.On("Acquire").Return(errors.New("no wakelock"))
	mockLogger.On("Debug", mock.Anything).Return()
	mockLogger.On("Warn", "session %d: could not inhibit suspend: %v").Return().Once()

	_, s := openTestSession(t, NewDefaultConfig(), Deps{
		Channels: &fakeAllocator{ch: newFakeChannel()},
		Inhibit:  mockInhibit,
		Logger:   mockLogger,
	})

	// Execute
	err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	// Assert
	assert.Equal(t, audio.StateAbort, s.State())
	mockInhibit.AssertNotCalled(t, "Release")
	mockLogger.AssertExpectations(t)
}

func TestSession_NullMode(t *testing.T) {
	t.Parallel()

	_, s := openTestSession(t, NewDefaultConfig(), Deps{})

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())

	assert.Equal(t, audio.StateInit, s.State())
	assert.Equal(t, 8192, s.WritePos())
	assert.Equal(t, 0, s.InFlight())
	assert.Equal(t, 0, s.Position())

	require.NoError(t, s.Stop())
	assert.Equal(t, audio.StateAbort, s.State())
	require.NoError(t, s.Close())
	assert.Equal(t, audio.StateExit, s.State())
}

func TestSession_Transitions_InvalidState(t *testing.T) {
	t.Parallel()

	s, _, _ := startedSession(t)

	assert.ErrorIs(t, s.Start(), ErrInvalidState)
	assert.ErrorIs(t, s.Prepare(), ErrInvalidState)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Prepare(), ErrSessionClosed)
	assert.ErrorIs(t, s.Start(), ErrSessionClosed)
	assert.ErrorIs(t, s.Stop(), ErrSessionClosed)
	assert.Equal(t, audio.StateExit, s.State())
}

func TestSession_Stop_BeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	_, s := openTestSession(t, NewDefaultConfig(), Deps{Channels: &fakeAllocator{ch: ch}})

	require.NoError(t, s.Stop())
	assert.Equal(t, audio.StateInvalid, s.State())
	assert.Equal(t, 0, ch.withdrawnCount())
}

func TestSession_Trigger(t *testing.T) {
	t.Parallel()

	s, _, _ := startedSession(t)

	tests := []struct {
		cmd  TriggerCmd
		want audio.StreamState
	}{
		{TriggerSuspend, audio.StateAbort},
		{TriggerResume, audio.StateInit},
		{TriggerPausePush, audio.StateAbort},
		{TriggerPauseRelease, audio.StateInit},
		{TriggerStop, audio.StateAbort},
		{TriggerStart, audio.StateInit},
	}

	for _, tt := range tests {
		require.NoError(t, s.Trigger(tt.cmd))
		assert.Equal(t, tt.want, s.State())
	}

	assert.ErrorIs(t, s.Trigger(TriggerCmd(42)), ErrInvalidState)
}

func TestSession_Position(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)

	ch.setProgress(ch.headHandle(), 1000)
	assert.Equal(t, 1000, s.PositionBytes())
	assert.Equal(t, 250, s.Position())

	ch.setProgress(ch.headHandle(), 1<<20)
	assert.Equal(t, 4096, s.PositionBytes(), "progress is clamped to one period")

	ch.setProgress(ch.headHandle(), -5)
	assert.Equal(t, 0, s.PositionBytes())

	ch.completeNext()
	ch.completeNext()
	ch.completeNext()
	require.Equal(t, 3, s.PeriodIndex())

	ch.setProgress(ch.headHandle(), 4096)
	assert.Equal(t, 0, s.PositionBytes(), "a full last period wraps to zero")
}

func TestSession_Position_MonotonicModuloWrap(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	size := s.Buffer().Size()

	prev := -1
	wraps := 0
	for period := 0; period < 8; period++ {
		for _, progress := range []int{0, 1024, 2048, 3072} {
			ch.setProgress(ch.headHandle(), progress)
			pos := s.PositionBytes()

			assert.Equal(t, (period*4096+progress)%size, pos)
			assert.Less(t, pos, size)
			if pos < prev {
				assert.Equal(t, 0, pos, "position may only drop when wrapping to zero")
				wraps++
			}
			prev = pos
		}
		ch.completeNext()
	}
	assert.Equal(t, 1, wraps)
}

func TestSession_Position_ConcurrentWithCompletion(t *testing.T) {
	t.Parallel()

	s, ch, _ := startedSession(t)
	size := s.Buffer().Size()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				pos := s.PositionBytes()
				if pos < 0 || pos >= size {
					t.Errorf("position %d outside buffer", pos)
					return
				}
			}
		}
	}()

	for i := 0; i < 200; i++ {
		ch.setProgress(ch.headHandle(), (i*512)%4096)
		ch.completeNext()
	}
	close(done)
	wg.Wait()

	assert.Equal(t, 200%4, s.PeriodIndex())
	assert.NoError(t, s.Err())
}
