package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTermSizeFallsBackWithoutTTY(t *testing.T) {
	cols, rows := termSize()
	require.Positive(t, cols)
	require.Positive(t, rows)
}

func TestAttachFlags(t *testing.T) {
	cmd := newAttachCmd(&rootOptions{})
	require.NoError(t, cmd.ParseFlags([]string{"--service", "ts_x", "--terminal", "4", "--persistent"}))
	require.True(t, cmd.Flags().Changed("persistent"))
	v, err := cmd.Flags().GetInt32("terminal")
	require.NoError(t, err)
	require.Equal(t, int32(4), v)
}
