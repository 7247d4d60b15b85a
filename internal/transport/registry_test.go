// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/nexus-mcp/internal/core"
)

// fakeTransport is a test double satisfying Transport without any real
// network I/O, so Registry's orchestration can be tested in isolation.
type fakeTransport struct {
	name       string
	startErr   error
	started    bool
	closed     bool
	connected  bool
	onCloseFn  func()
	lastSent   *Message
	reqResults map[string]*Message
}

func (f *fakeTransport) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.connected = true
	return nil
}
func (f *fakeTransport) Send(_ context.Context, msg *Message) error { f.lastSent = msg; return nil }
func (f *fakeTransport) Request(_ context.Context, msg *Message) (*Message, error) {
	f.lastSent = msg
	if f.reqResults != nil {
		if r, ok := f.reqResults[idKey(msg.ID)]; ok {
			return r, nil
		}
	}
	return &Message{ID: msg.ID}, nil
}
func (f *fakeTransport) Close() error {
	f.closed = true
	f.connected = false
	if f.onCloseFn != nil {
		f.onCloseFn()
	}
	return nil
}
func (f *fakeTransport) IsConnected() bool        { return f.connected }
func (f *fakeTransport) OnMessage(func(*Message)) {}
func (f *fakeTransport) OnError(func(error))      {}
func (f *fakeTransport) OnClose(fn func())        { f.onCloseFn = fn }

func newTestRegistry() (*Registry, map[string]*fakeTransport) {
	fakes := make(map[string]*fakeTransport)
	r := NewRegistry()
	r.newTransport = func(name, baseURL string, cfg Config) Transport {
		f := &fakeTransport{name: name}
		fakes[name] = f
		return f
	}
	return r, fakes
}

func TestRegistry_AddConnectDisconnect(t *testing.T) {
	t.Parallel()

	r, fakes := newTestRegistry()
	require.NoError(t, r.Add("up1", "http://example.invalid", DefaultConfig()))

	assert.ErrorContains(t, r.Add("up1", "http://example.invalid", DefaultConfig()), "already registered")

	require.NoError(t, r.Connect(context.Background(), "up1"))
	assert.True(t, fakes["up1"].started)
	assert.True(t, r.IsConnected("up1"))

	require.NoError(t, r.Disconnect("up1"))
	assert.True(t, fakes["up1"].closed)

	assert.Equal(t, []string{"up1"}, r.List())
}

func TestRegistry_UnknownSourceErrors(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry()
	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownSource))

	err = r.Connect(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownSource))
}

func TestRegistry_RemoveClosesAndDeletes(t *testing.T) {
	t.Parallel()

	r, fakes := newTestRegistry()
	require.NoError(t, r.Add("up1", "http://example.invalid", DefaultConfig()))
	require.NoError(t, r.Connect(context.Background(), "up1"))

	require.NoError(t, r.Remove("up1"))
	assert.True(t, fakes["up1"].closed)
	assert.Empty(t, r.List())
}

func TestRegistry_TerminalCloseAutoRemoves(t *testing.T) {
	t.Parallel()

	r, fakes := newTestRegistry()
	require.NoError(t, r.Add("up1", "http://example.invalid", DefaultConfig()))
	require.NoError(t, r.Connect(context.Background(), "up1"))

	// Simulate the transport firing its terminal OnClose hook on its own
	// (e.g. after exhausting reconnect retries), without a caller ever
	// invoking Registry.Remove.
	fakes["up1"].Close()

	assert.Empty(t, r.List())
}

func TestRegistry_RequestAndSendProxy(t *testing.T) {
	t.Parallel()

	r, fakes := newTestRegistry()
	require.NoError(t, r.Add("up1", "http://example.invalid", DefaultConfig()))

	msg, err := NewRequest("1", "tools/list", nil)
	require.NoError(t, err)
	resp, err := r.Request(context.Background(), "up1", msg)
	require.NoError(t, err)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, "tools/list", fakes["up1"].lastSent.Method)

	require.NoError(t, r.Send(context.Background(), "up1", msg))
}
