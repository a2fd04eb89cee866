package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/cipherchat/internal/client"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		ev   client.Event
		want string
	}{
		{"chat", client.Event{Kind: client.EventChat, Room: "Général", From: "alice", Text: "hi"}, "[Général] alice: hi"},
		{"undecryptable chat", client.Event{Kind: client.EventChat, Room: "x", From: "bob", Text: "zzz", Undecryptable: true}, "[x] bob: <encrypted>"},
		{"private", client.Event{Kind: client.EventPrivate, From: "alice", Text: "psst"}, "(private) alice: psst"},
		{"notice", client.Event{Kind: client.EventNotice, Text: "bob left the chat"}, "* bob left the chat"},
		{"users", client.Event{Kind: client.EventUserList, Names: []string{"alice", "bob"}}, "users: alice, bob"},
		{"rooms", client.Event{Kind: client.EventRoomList, Names: []string{"Général"}}, "rooms: Général"},
		{"new room", client.Event{Kind: client.EventNewRoom, Room: "secrets"}, "* new room: secrets"},
		{"room key", client.Event{Kind: client.EventRoomKey, Room: "secrets"}, "* joined secrets"},
		{"text", client.Event{Kind: client.EventText, Text: "raw"}, "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.ev))
		})
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := rootCmd()
	for _, name := range []string{"url", "username", "room", "origin", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "ws://localhost:8080/ws", cmd.Flags().Lookup("url").DefValue)
}

func TestScanLinesStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string)
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanLines(ctx, strings.NewReader("one\ntwo\nthree\n"), out)
	}()

	assert.Equal(t, "one", <-out)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanLines still blocked after cancellation")
	}
}

func TestScanLinesForwardsAllInput(t *testing.T) {
	out := make(chan string, 3)
	scanLines(context.Background(), strings.NewReader("a\nb\nc"), out)
	close(out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
