package contracts

import (
	"errors"
	"testing"
)

func TestStatusForColumn(t *testing.T) {
	cases := []struct {
		column ColumnKey
		want   Status
	}{
		{ColumnPending, StatusTodo},
		{ColumnInProgress, StatusInProgress},
		{ColumnCompleted, StatusCompleted},
		{ColumnOverdue, StatusTodo},
	}
	for _, tc := range cases {
		if got := StatusForColumn(tc.column); got != tc.want {
			t.Fatalf("StatusForColumn(%q) = %q, want %q", tc.column, got, tc.want)
		}
	}
}

func TestChatMessage_ValidateScope(t *testing.T) {
	base := ChatMessage{SenderID: "u1", Kind: MessageText, Body: "hi"}

	neither := base
	if err := neither.Validate(); !errors.Is(err, ErrMessageScope) {
		t.Fatalf("no scope must fail, got %v", err)
	}

	both := base
	both.ChannelID = "general"
	both.ConversationID = "dm-1"
	if err := both.Validate(); !errors.Is(err, ErrMessageScope) {
		t.Fatalf("dual scope must fail, got %v", err)
	}

	channel := base
	channel.ChannelID = "general"
	if err := channel.Validate(); err != nil {
		t.Fatalf("channel scope must pass, got %v", err)
	}

	conversation := base
	conversation.ConversationID = "dm-1"
	if err := conversation.Validate(); err != nil {
		t.Fatalf("conversation scope must pass, got %v", err)
	}
}

func TestChatMessage_ValidateVariants(t *testing.T) {
	cases := []struct {
		name string
		msg  ChatMessage
		want error
	}{
		{"text without body", ChatMessage{ChannelID: "c", Kind: MessageText, Body: "  "}, ErrMessageBody},
		{"voice without media", ChatMessage{ChannelID: "c", Kind: MessageVoice}, ErrMessageMedia},
		{"image with blank url", ChatMessage{ChannelID: "c", Kind: MessageImage, Media: &MediaRef{URL: " "}}, ErrMessageMedia},
		{"task share without snapshot", ChatMessage{ChannelID: "c", Kind: MessageTaskShare}, ErrMessageSnapshot},
		{"task share untitled", ChatMessage{ChannelID: "c", Kind: MessageTaskShare, Shared: &CardSnapshot{CardID: "a"}}, ErrMessageSnapshot},
		{"unknown kind", ChatMessage{ChannelID: "c", Kind: "sticker", Body: "x"}, ErrUnknownKind},
	}
	for _, tc := range cases {
		if err := tc.msg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	ok := ChatMessage{ChannelID: "c", Kind: MessageTaskShare, Shared: &CardSnapshot{CardID: "a", Title: "Prep stock"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid task share rejected: %v", err)
	}
}

func TestChatMessage_Scope(t *testing.T) {
	if got := (ChatMessage{ChannelID: "general"}).Scope(); got != "general" {
		t.Fatalf("Scope() = %q", got)
	}
	if got := (ChatMessage{ConversationID: "dm-1"}).Scope(); got != "dm-1" {
		t.Fatalf("Scope() = %q", got)
	}
}

func TestIsValidColumn(t *testing.T) {
	for _, key := range Columns() {
		if !IsValidColumn(key) {
			t.Fatalf("built-in column %q rejected", key)
		}
	}
	if IsValidColumn("archive") {
		t.Fatal("unknown column accepted")
	}
}
