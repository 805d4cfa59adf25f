package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ilvlbot/internal/domain"
)

const (
	cliPrompt       = "You> "
	cliDrainTimeout = 30 * time.Second
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	chatID  string
	spinner bool

	inflight atomic.Int64
	replied  chan struct{}

	outMu     sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	ChatID  string // conversation id; defaults to "direct"
	Spinner bool   // animate while a turn is in flight
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ChatID == "" {
		cfg.ChatID = "direct"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		chatID:  cfg.ChatID,
		spinner: cfg.Spinner,
		replied: make(chan struct{}, 1),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until EOF, /quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		c.stopThinking()
		c.outMu.Lock()
		defer c.outMu.Unlock()
		if c.spinner {
			_, _ = fmt.Fprint(c.out, "\r\033[K")
		}
		_, _ = fmt.Fprintln(c.out, "bot> "+strings.ReplaceAll(msg.Content, "\n", "\n     "))
		_, _ = fmt.Fprint(c.out, cliPrompt)
		if c.inflight.Add(-1) < 0 {
			c.inflight.Store(0)
		}
		select {
		case c.replied <- struct{}{}:
		default:
		}
	})

	c.write("ilvlbot CLI. Ask for an item level, e.g. \"ilvl hoazl@antonidas\". Type /quit to exit.\n" + cliPrompt)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopThinking()
			return nil
		case raw, ok := <-lines:
			if !ok {
				c.drain(ctx)
				c.stopThinking()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				c.write(cliPrompt)
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				c.stopThinking()
				return nil
			}

			c.startThinking()
			c.inflight.Add(1)
			c.bus.Publish(domain.InboundMessage{
				Channel:   "cli",
				ChatID:    c.chatID,
				SenderID:  "user",
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}
}

// drain waits for replies to lines already sent, so piped input still gets its answers.
func (c *CLI) drain(ctx context.Context) {
	timer := time.NewTimer(cliDrainTimeout)
	defer timer.Stop()
	for c.inflight.Load() > 0 {
		select {
		case <-c.replied:
		case <-timer.C:
			c.logger.Warn("gave up waiting for replies", "pending", c.inflight.Load())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *CLI) write(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	stop := make(chan struct{})
	done := make(chan struct{})
	c.thinkStop, c.thinkDone = stop, done
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				_, _ = fmt.Fprintf(c.out, "\r%s Looking up...", frames[i%len(frames)])
				c.outMu.Unlock()
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	if !c.thinking {
		c.outMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.outMu.Unlock()
	<-done
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, _ string, content string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, content)
	return err
}
