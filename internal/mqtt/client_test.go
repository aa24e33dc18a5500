package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := map[string]string{
		`sync`:                 CommandSync,
		" DRAIN \n":            CommandDrain,
		`{"command":"reload"}`: CommandReload,
		`{"command": "Reset"}`: CommandReset,
	}
	for in, want := range cases {
		got, err := ParseCommand([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseCommand([]byte(`reboot`))
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = ParseCommand([]byte(`{"command":`))
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	var calls []string
	c := New("tcp://127.0.0.1:1883", func() string { return "ABC123" }, nil, Actions{
		Sync:   func() { calls = append(calls, "sync") },
		Drain:  func() { calls = append(calls, "drain") },
		Reload: func() { calls = append(calls, "reload") },
		Reset: func(context.Context) error {
			calls = append(calls, "reset")
			return errors.New("disk busy")
		},
	})

	require.NoError(t, c.Dispatch(context.Background(), CommandSync))
	require.NoError(t, c.Dispatch(context.Background(), CommandDrain))
	require.NoError(t, c.Dispatch(context.Background(), CommandReload))
	assert.EqualError(t, c.Dispatch(context.Background(), CommandReset), "disk busy")
	assert.ErrorIs(t, c.Dispatch(context.Background(), "reboot"), ErrUnknownCommand)
	assert.Equal(t, []string{"sync", "drain", "reload", "reset"}, calls)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "tv/ABC123/commands", commandTopic("ABC123"))
	assert.Equal(t, "tv/ABC123/status", statusTopic("ABC123"))
}
