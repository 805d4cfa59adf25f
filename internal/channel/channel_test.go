package channel

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestTelegram_AllowList(t *testing.T) {
	open := NewTelegram(TelegramConfig{Token: "x"})
	if !open.isAllowed(42) {
		t.Fatal("empty allow list should allow everyone")
	}

	tg := NewTelegram(TelegramConfig{Token: "x", AllowFrom: []string{"42", " 7 ", "not-a-number"}})
	if len(tg.allowFrom) != 2 {
		t.Fatalf("expected 2 parsed ids, got %v", tg.allowFrom)
	}
	if !tg.isAllowed(7) || !tg.isAllowed(42) {
		t.Fatal("listed users should be allowed")
	}
	if tg.isAllowed(8) {
		t.Fatal("unlisted user should be rejected")
	}
}

func TestSlashCommandText(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: "ilvl",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "name", Type: discordgo.ApplicationCommandOptionString, Value: "hoazl"},
			{Name: "realm", Type: discordgo.ApplicationCommandOptionString, Value: "Argent Dawn"},
		},
	}
	if got := slashCommandText(data); got != "/ilvl hoazl Argent Dawn" {
		t.Fatalf("unexpected command text %q", got)
	}

	if got := slashCommandText(discordgo.ApplicationCommandInteractionData{Name: "cancel"}); got != "/cancel" {
		t.Fatalf("unexpected command text %q", got)
	}
}

func TestInteractionUserID(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "m1"}},
	}}
	if got := interactionUserID(guild); got != "m1" {
		t.Fatalf("expected member id, got %q", got)
	}

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "u1"}}}
	if got := interactionUserID(dm); got != "u1" {
		t.Fatalf("expected user id, got %q", got)
	}
}

func TestStripMention(t *testing.T) {
	tests := map[string]string{
		"<@U123> ilvl hoazl": "ilvl hoazl",
		"  <@U123>":          "",
		"ilvl hoazl":         "ilvl hoazl",
	}
	for in, want := range tests {
		if got := stripMention(in); got != want {
			t.Errorf("stripMention(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddressedText(t *testing.T) {
	bot := &discordgo.User{ID: "B1"}
	other := &discordgo.User{ID: "U9"}

	got, ok := addressedText("<@B1> ilvl hoazl antonidas", "B1", []*discordgo.User{bot})
	if !ok || got != "ilvl hoazl antonidas" {
		t.Fatalf("got %q, %v", got, ok)
	}
	got, ok = addressedText("hey <@!B1>   blackhand", "B1", []*discordgo.User{other, bot})
	if !ok || got != "hey    blackhand" {
		t.Fatalf("nickname mention: got %q, %v", got, ok)
	}
	if _, ok := addressedText("<@U9> hello", "B1", []*discordgo.User{other}); ok {
		t.Fatal("message without a bot mention should be ignored")
	}
	if _, ok := addressedText("hello", "", nil); ok {
		t.Fatal("unknown bot id should ignore guild messages")
	}
}

func TestCommandText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/ilvl@ilvl_bot hoazl antonidas", "/ilvl hoazl antonidas"},
		{"/cancel@ILVL_BOT", "/cancel"},
		{"/ilvl@other_bot hoazl", "/ilvl@other_bot hoazl"},
		{"  ilvl hoazl@antonidas ", "ilvl hoazl@antonidas"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := commandText(tt.in, "ilvl_bot"); got != tt.want {
			t.Errorf("commandText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlackChatID(t *testing.T) {
	if got := slackChatID("C1", ""); got != "C1" {
		t.Fatalf("top-level chat id = %q", got)
	}
	id := slackChatID("C1", "1700000000.000100")
	ch, ts := splitSlackChatID(id)
	if ch != "C1" || ts != "1700000000.000100" {
		t.Fatalf("split(%q) = %q, %q", id, ch, ts)
	}
	if ch, ts := splitSlackChatID("D9"); ch != "D9" || ts != "" {
		t.Fatalf("split(D9) = %q, %q", ch, ts)
	}
}
