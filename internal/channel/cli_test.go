package channel

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilvlbot/internal/bus"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestCLI_WaitsForRepliesBeforeExit(t *testing.T) {
	b := bus.New(bus.Config{Logger: testLogger()})
	echoResponder(t, b)

	out := &syncBuffer{}
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("ilvl hoazl\n\nantonidas\n"),
		Out:    out,
	})

	require.NoError(t, cli.Start(context.Background(), b))

	got := out.String()
	assert.Contains(t, got, "bot> echo: ilvl hoazl")
	assert.Contains(t, got, "bot> echo: antonidas")
}

func TestCLI_QuitStopsReading(t *testing.T) {
	b := bus.New(bus.Config{Logger: testLogger()})
	echoResponder(t, b)

	out := &syncBuffer{}
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("/quit\nilvl hoazl\n"),
		Out:    out,
	})

	require.NoError(t, cli.Start(context.Background(), b))
	assert.NotContains(t, out.String(), "echo:")
}

func TestCLI_ChatIDDefaultsToDirect(t *testing.T) {
	cli := NewCLI(CLIConfig{In: strings.NewReader(""), Out: &syncBuffer{}})
	assert.Equal(t, "direct", cli.chatID)
	assert.Equal(t, "cli", cli.Name())
}
