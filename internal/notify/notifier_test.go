package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifier_EventFilter(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"tick_panic"}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "instance_deactivated", "stopped", "x"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), "tick_panic", "panicked", "y"))
	assert.Equal(t, []string{"panicked"}, s.titles)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "anything", "title", "msg"))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_SenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("webhook down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}
