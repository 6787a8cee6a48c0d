package worker

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvent(t *testing.T) {
	input := "event: connected\ndata: {\"code\":\"ABCDEF23\"}\n\n" +
		"event: heartbeat\ndata: {}\n\n"
	reader := bufio.NewReader(strings.NewReader(input))

	event, err := readEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "connected", event.name)
	assert.Equal(t, `{"code":"ABCDEF23"}`, event.data)

	event, err = readEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", event.name)

	_, err = readEvent(reader)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEventIgnoresUnknownLines(t *testing.T) {
	input := ": comment\nretry: 1000\nevent: tool-request\ndata: {\"id\":\"r1\"}\n\n"
	reader := bufio.NewReader(strings.NewReader(input))
	event, err := readEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "tool-request", event.name)
	assert.Equal(t, `{"id":"r1"}`, event.data)
}

func TestReadEventSkipsLeadingBlankLines(t *testing.T) {
	input := "\n\nevent: timeout\ndata: {}\n\n"
	reader := bufio.NewReader(strings.NewReader(input))
	event, err := readEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "timeout", event.name)
}
