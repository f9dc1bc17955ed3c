package main

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/op-bridge/ffi"
	"github.com/wippyai/op-bridge/onepassword"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestBrowser(t *testing.T) *browser {
	t.Helper()
	lib := newTestLibrary()
	client, err := onepassword.NewClient(context.Background(), ffi.New(lib), onepassword.DefaultClientConfig("ops_test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		lib.AssertClean(t)
	})
	return newBrowser(context.Background(), client)
}

func TestBrowser_Flow(t *testing.T) {
	m := newTestBrowser(t)
	if !strings.Contains(m.View(), "Loading") {
		t.Fatalf("initial view = %q", m.View())
	}

	m.Update(m.loadVaults())
	if !strings.Contains(m.View(), "Personal") {
		t.Fatalf("vault view = %q", m.View())
	}

	if _, cmd := m.Update(key("enter")); cmd == nil || !m.loading {
		t.Fatal("enter on a vault should load its items")
	}
	m.Update(m.loadItems())
	if m.state != stateItems || len(m.items) != 2 {
		t.Fatalf("state = %v, items = %d", m.state, len(m.items))
	}
	view := m.View()
	if !strings.Contains(view, "GitHub") || !strings.Contains(view, "Note") {
		t.Fatalf("item view = %q", view)
	}

	m.Update(key("enter"))
	m.Update(m.loadSecret())
	if m.state != stateSecret || m.secret == nil {
		t.Fatalf("state = %v, secret = %v", m.state, m.secret)
	}
	if strings.Contains(m.View(), "hunter2") {
		t.Fatal("secret shown before reveal")
	}
	m.Update(key("r"))
	if !strings.Contains(m.View(), "hunter2") {
		t.Fatalf("revealed view = %q", m.View())
	}

	m.Update(key("esc"))
	if m.state != stateItems || m.secret != nil {
		t.Fatal("esc should return to the items and drop the secret")
	}
	m.Update(key("down"))
	m.Update(key("enter"))
	m.Update(m.loadSecret())
	if m.secret != nil || !strings.Contains(m.View(), "no password") {
		t.Fatalf("note view = %q", m.View())
	}

	m.Update(key("esc"))
	m.Update(key("esc"))
	if m.state != stateVaults {
		t.Fatalf("state = %v, want vaults", m.state)
	}
}

func TestBrowser_WebsiteFilter(t *testing.T) {
	m := newTestBrowser(t)
	m.Update(m.loadVaults())
	m.Update(key("enter"))
	m.Update(m.loadItems())

	m.Update(key("/"))
	if m.state != stateFilter {
		t.Fatalf("state = %v, want filter", m.state)
	}
	for _, r := range "github.com" {
		m.Update(key(string(r)))
	}
	m.Update(key("enter"))
	if m.website != "github.com" {
		t.Fatalf("website = %q", m.website)
	}
	m.Update(m.loadItems())
	if len(m.items) != 1 || m.items[0].Title != "GitHub" {
		t.Fatalf("filtered items = %v", m.items)
	}
	if !strings.Contains(m.View(), "Items for") {
		t.Fatalf("view = %q", m.View())
	}
}

func TestBrowser_Quit(t *testing.T) {
	m := newTestBrowser(t)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should return tea.Quit")
	}
}
