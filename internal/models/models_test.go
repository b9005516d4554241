package models

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMessageSnapshot(t *testing.T) {
	long := strings.Repeat("你", 150)

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"short text", Message{Type: TextMessage, Content: strPtr("there")}, "there"},
		{"long text truncated by runes", Message{Type: TextMessage, Content: strPtr(long)}, strings.Repeat("你", 100)},
		{"media without content", Message{Type: ImageMessage, MediaURL: strPtr("https://cdn/x.png")}, "[image]"},
		{"media with empty content", Message{Type: VoiceMessage, Content: strPtr("")}, "[voice]"},
		{"media with caption", Message{Type: VideoMessage, Content: strPtr("clip.mp4")}, "clip.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Snapshot(); got != tt.want {
				t.Errorf("Snapshot() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageTypeValid(t *testing.T) {
	tests := []struct {
		typ   MessageType
		valid bool
		media bool
	}{
		{TextMessage, true, false},
		{ImageMessage, true, true},
		{VoiceMessage, true, true},
		{VideoMessage, true, true},
		{MessageType("file"), false, false},
		{MessageType(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.typ.IsMedia(); got != tt.media {
				t.Errorf("IsMedia() = %v, want %v", got, tt.media)
			}
		})
	}
}

func TestChatParticipants(t *testing.T) {
	c := &Chat{User1ID: 9, User2ID: 4}
	if err := c.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate() error = %v", err)
	}
	if c.User1ID != 4 || c.User2ID != 9 {
		t.Fatalf("canonical order = (%d, %d), want (4, 9)", c.User1ID, c.User2ID)
	}
	if !c.HasParticipant(9) || c.HasParticipant(5) {
		t.Errorf("HasParticipant mismatch")
	}
	if got := c.OtherParticipant(4); got != 9 {
		t.Errorf("OtherParticipant(4) = %d, want 9", got)
	}

	self := &Chat{User1ID: 3, User2ID: 3}
	if err := self.BeforeCreate(nil); err != ErrSelfChat {
		t.Errorf("BeforeCreate() for self chat = %v, want ErrSelfChat", err)
	}
}

func TestCoinPrizeForRank(t *testing.T) {
	p := CoinPrize{FirstPlace: 100, SecondPlace: 50, ThirdPlace: 20}
	want := map[int]int{1: 100, 2: 50, 3: 20, 4: 0, 0: 0}
	for rank, prize := range want {
		if got := p.ForRank(rank); got != prize {
			t.Errorf("ForRank(%d) = %d, want %d", rank, got, prize)
		}
	}
}
