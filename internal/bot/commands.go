package bot

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"ilvlbot/internal/domain"
	"ilvlbot/internal/itemlevel"
	"ilvlbot/internal/metrics"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // false means the text goes to the dialog runtime
}

// version is set by the build system.
var version = "0.1.0"

func SetVersion(v string) {
	version = v
}

func Version() string { return version }

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	// Telegram appends the bot name in groups: /ilvl@ilvlbot
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return &ChatCommand{Name: name, Args: args, Raw: text}
}

// HandleCommand processes a chat command. Unknown commands are not handled so
// the text still reaches the recognizer.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	switch cmd.Name {
	case "help", "start":
		return CommandResult{Response: helpText(), Handled: true}

	case "cancel":
		cancelled, err := l.runtime.Cancel(ctx, msg.ConversationKey())
		if err != nil {
			l.logger.Error("cancel dialog failed", "key", msg.ConversationKey(), "err", err)
			return CommandResult{Response: "Could not cancel the current request.", Handled: true}
		}
		if !cancelled {
			return CommandResult{Response: "Nothing to cancel.", Handled: true}
		}
		return CommandResult{Response: "Cancelled.", Handled: true}

	case "status":
		return CommandResult{Response: l.statusText(ctx, msg), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("ilvlbot v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	case "ilvl":
		return l.itemLevelCommand(ctx, cmd, msg)

	default:
		return CommandResult{Handled: false}
	}
}

// itemLevelCommand starts the item level dialog from "/ilvl <name> [realm]".
// Everything after the name is the realm, so "Argent Dawn" survives intact.
func (l *Loop) itemLevelCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	rec := domain.Recognition{
		Query:   cmd.Raw,
		Intents: []domain.Intent{{Name: itemlevel.IntentName, Score: 1}},
	}
	if len(cmd.Args) > 0 {
		rec.Entities = append(rec.Entities, domain.Entity{Type: domain.EntityCharacterName, Value: cmd.Args[0], Score: 1})
	}
	if len(cmd.Args) > 1 {
		rec.Entities = append(rec.Entities, domain.Entity{Type: domain.EntityRealmName, Value: strings.Join(cmd.Args[1:], " "), Score: 1})
	}

	reply, err := l.runtime.Begin(ctx, msg.ConversationKey(), rec)
	if err != nil {
		l.logger.Error("ilvl command failed", "key", msg.ConversationKey(), "err", err)
		return CommandResult{Response: "Item level lookups are not available right now.", Handled: true}
	}
	return CommandResult{Response: reply.Text(), Handled: true}
}

func helpText() string {
	return `ilvlbot commands

/ilvl <name> [realm] - Look up a character's item level
/cancel - Abandon the current question
/status - Show bot status
/version - Show version info
/help - Show this help message

You can also just ask, e.g. "what is the item level of hoazl on antonidas?"`
}

func (l *Loop) statusText(ctx context.Context, msg domain.InboundMessage) string {
	intents := l.runtime.Intents()
	sort.Strings(intents)

	var sb strings.Builder
	fmt.Fprintf(&sb, "ilvlbot v%s\n\n", version)
	fmt.Fprintf(&sb, "Dialogs: %s\n", strings.Join(intents, ", "))
	if st, err := l.runtime.Active(ctx, msg.ConversationKey()); err == nil && st != nil {
		waiting := fmt.Sprintf("step %d", st.Step)
		if st.Intent == itemlevel.IntentName {
			waiting = itemlevel.Step(st.Step).Phase().String()
		}
		fmt.Fprintf(&sb, "Waiting on: %s (%s)\n", st.Intent, waiting)
	}
	fmt.Fprintf(&sb, "Messages: %d\n", metrics.MessagesTotal.Value())
	fmt.Fprintf(&sb, "Lookups: %d (%d failed)\n", metrics.LookupsTotal.Value(), metrics.LookupFailures.Value())
	fmt.Fprintf(&sb, "Uptime: %s\n", metrics.Collector.Uptime().Round(time.Second))
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String()
}
