package dma

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/tphakala/pcmstream/internal/audio"
)

// fakeChannel is a hand-driven transfer engine. Descriptors complete only when
// the test calls completeNext.
type fakeChannel struct {
	mu         sync.Mutex
	onComplete audio.CompletionFunc
	nextHandle audio.Handle
	pending    []pendingDesc
	submitted  []audio.Descriptor
	withdrawn  []audio.Handle
	progress   map[audio.Handle]int

	submitErr   error
	withdrawErr error
	released    bool
}

type pendingDesc struct {
	handle audio.Handle
	desc   audio.Descriptor
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{progress: make(map[audio.Handle]int)}
}

func (c *fakeChannel) Submit(desc audio.Descriptor) (audio.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitErr != nil {
		return 0, c.submitErr
	}
	c.nextHandle++
	c.pending = append(c.pending, pendingDesc{handle: c.nextHandle, desc: desc})
	c.submitted = append(c.submitted, desc)
	return c.nextHandle, nil
}

func (c *fakeChannel) Withdraw(_ context.Context, h audio.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.withdrawn = append(c.withdrawn, h)
	if c.withdrawErr != nil {
		return c.withdrawErr
	}
	for i, p := range c.pending {
		if p.handle == h {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return nil
		}
	}
	return audio.ErrNotQueued
}

func (c *fakeChannel) Progress(h audio.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[h]
}

func (c *fakeChannel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.pending = nil
	return nil
}

// completeNext finishes the oldest pending descriptor and returns its token.
func (c *fakeChannel) completeNext() audio.Token {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		panic("fakeChannel: nothing pending")
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	cb := c.onComplete
	c.mu.Unlock()

	cb(p.desc.Token)
	return p.desc.Token
}

// finishNext completes the oldest pending descriptor inside the engine but holds
// back its callback, as if it were still on its way to the session.
func (c *fakeChannel) finishNext() audio.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		panic("fakeChannel: nothing pending")
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	return p.desc.Token
}

// deliver hands tok to the session as if the engine had completed it.
func (c *fakeChannel) deliver(tok audio.Token) {
	c.mu.Lock()
	cb := c.onComplete
	c.mu.Unlock()
	cb(tok)
}

func (c *fakeChannel) setProgress(h audio.Handle, n int) {
	c.mu.Lock()
	c.progress[h] = n
	c.mu.Unlock()
}

func (c *fakeChannel) headHandle() audio.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0
	}
	return c.pending[0].handle
}

func (c *fakeChannel) submittedOffsets() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	offsets := make([]int, 0, len(c.submitted))
	for _, d := range c.submitted {
		offsets = append(offsets, d.Offset)
	}
	return offsets
}

func (c *fakeChannel) withdrawnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.withdrawn)
}

func (c *fakeChannel) pendingTokens() []audio.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	toks := make([]audio.Token, 0, len(c.pending))
	for _, p := range c.pending {
		toks = append(toks, p.desc.Token)
	}
	return toks
}

// fakeAllocator hands out a single fakeChannel.
type fakeAllocator struct {
	ch  *fakeChannel
	err error
}

func (a *fakeAllocator) AllocateChannel(_ audio.Direction, onComplete audio.CompletionFunc) (audio.Channel, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.ch.mu.Lock()
	a.ch.onComplete = onComplete
	a.ch.mu.Unlock()
	return a.ch, nil
}

// MockChannel mocks audio.Channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Submit(desc audio.Descriptor) (audio.Handle, error) {
	args := m.Called(desc)
	return args.Get(0).(audio.Handle), args.Error(1)
}

func (m *MockChannel) Withdraw(ctx context.Context, h audio.Handle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockChannel) Progress(h audio.Handle) int {
	args := m.Called(h)
	return args.Int(0)
}

func (m *MockChannel) Release() error {
	args := m.Called()
	return args.Error(0)
}

// MockChannelAllocator mocks audio.ChannelAllocator
type MockChannelAllocator struct {
	mock.Mock
}

func (m *MockChannelAllocator) AllocateChannel(dir audio.Direction, onComplete audio.CompletionFunc) (audio.Channel, error) {
	args := m.Called(dir, onComplete)
	ch, _ := args.Get(0).(audio.Channel)
	return ch, args.Error(1)
}

// MockNotifier mocks audio.PeriodNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PeriodElapsed() {
	m.Called()
}

// MockInhibit mocks audio.InhibitGuard
type MockInhibit struct {
	mock.Mock
}

func (m *MockInhibit) Acquire() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockInhibit) Release() {
	m.Called()
}

// MockLogger mocks audio.Logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...interface{}) {
	m.Called(msg)
}

func (m *MockLogger) Info(msg string, args ...interface{}) {
	m.Called(msg)
}

func (m *MockLogger) Warn(msg string, args ...interface{}) {
	m.Called(msg)
}

func (m *MockLogger) Error(msg string, args ...interface{}) {
	m.Called(msg)
}
