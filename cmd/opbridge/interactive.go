package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/op-bridge/onepassword"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#0572EC")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#0572EC"))

	secretStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Browse vaults and items in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, done, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			p := tea.NewProgram(newBrowser(cmd.Context(), client), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}

type browserState int

const (
	stateVaults browserState = iota
	stateItems
	stateFilter
	stateSecret
)

// vaultLister is the part of the client the browser needs.
type vaultLister interface {
	Vaults(ctx context.Context) ([]*onepassword.Vault, error)
}

type browser struct {
	ctx     context.Context
	client  vaultLister
	err     error
	vault   *onepassword.Vault
	item    *onepassword.Item
	secret  *onepassword.Secret
	vaults  []*onepassword.Vault
	items   []*onepassword.Item
	filter  textinput.Model
	spinner spinner.Model
	website string
	cursor  int
	state   browserState
	loading bool
	reveal  bool
}

type vaultsMsg struct {
	err    error
	vaults []*onepassword.Vault
}

type itemsMsg struct {
	err   error
	items []*onepassword.Item
}

type secretMsg struct {
	err    error
	secret *onepassword.Secret
}

func newBrowser(ctx context.Context, client vaultLister) *browser {
	ti := textinput.New()
	ti.Placeholder = "github.com"
	ti.Prompt = "website: "
	ti.Width = 40

	return &browser{
		ctx:     ctx,
		client:  client,
		filter:  ti,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		loading: true,
	}
}

func (m *browser) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadVaults)
}

func (m *browser) loadVaults() tea.Msg {
	vaults, err := m.client.Vaults(m.ctx)
	return vaultsMsg{vaults: vaults, err: err}
}

func (m *browser) loadItems() tea.Msg {
	var items []*onepassword.Item
	var err error
	if m.website != "" {
		items, err = m.vault.ItemsForWebsite(m.ctx, m.website)
	} else {
		items, err = m.vault.Items(m.ctx)
	}
	return itemsMsg{items: items, err: err}
}

func (m *browser) loadSecret() tea.Msg {
	secret, err := m.item.Password(m.ctx)
	return secretMsg{secret: secret, err: err}
}

func (m *browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateFilter {
			return m.updateFilter(msg)
		}
		return m.updateKey(msg)

	case vaultsMsg:
		m.loading = false
		m.vaults, m.err = msg.vaults, msg.err
		m.cursor = 0

	case itemsMsg:
		m.loading = false
		m.items, m.err = msg.items, msg.err
		m.cursor = 0
		m.state = stateItems

	case secretMsg:
		m.loading = false
		m.secret, m.err = msg.secret, msg.err
		m.reveal = false
		m.state = stateSecret

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *browser) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < m.rows()-1 {
			m.cursor++
		}

	case "/":
		if m.state == stateItems {
			m.state = stateFilter
			m.filter.SetValue(m.website)
			return m, m.filter.Focus()
		}

	case "r":
		if m.state == stateSecret {
			m.reveal = !m.reveal
		}

	case "enter":
		if m.loading {
			return m, nil
		}
		switch m.state {
		case stateVaults:
			if len(m.vaults) == 0 {
				return m, nil
			}
			m.vault = m.vaults[m.cursor]
			m.website = ""
			return m, m.startLoading(m.loadItems)
		case stateItems:
			if len(m.items) == 0 {
				return m, nil
			}
			m.item = m.items[m.cursor]
			return m, m.startLoading(m.loadSecret)
		case stateSecret:
			m.back()
		}

	case "esc":
		m.back()
	}
	return m, nil
}

func (m *browser) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.website = strings.TrimSpace(m.filter.Value())
		m.filter.Blur()
		m.state = stateItems
		return m, m.startLoading(m.loadItems)
	case "esc":
		m.filter.Blur()
		m.state = stateItems
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

func (m *browser) startLoading(load tea.Cmd) tea.Cmd {
	m.loading = true
	m.err = nil
	return tea.Batch(m.spinner.Tick, load)
}

func (m *browser) back() {
	m.err = nil
	switch m.state {
	case stateSecret:
		m.state = stateItems
		m.secret = nil
		m.reveal = false
	case stateItems:
		m.state = stateVaults
		m.items = nil
		m.website = ""
	}
	m.cursor = 0
}

func (m *browser) rows() int {
	if m.state == stateVaults {
		return len(m.vaults)
	}
	return len(m.items)
}

func (m *browser) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("1Password"))
	if m.vault != nil && m.state != stateVaults {
		b.WriteString(" ")
		b.WriteString(m.vault.Title)
	}
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString(m.spinner.View() + " Loading...\n")
		return b.String()
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc back • q quit"))
		return b.String()
	}

	switch m.state {
	case stateVaults:
		b.WriteString("Select a vault:\n\n")
		for i, v := range m.vaults {
			m.writeRow(&b, i, nameStyle.Render(v.Title)+" "+metaStyle.Render(v.ID))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • q quit"))

	case stateItems, stateFilter:
		if m.website != "" {
			b.WriteString("Items for " + metaStyle.Render(m.website) + ":\n\n")
		} else {
			b.WriteString("Select an item:\n\n")
		}
		if len(m.items) == 0 {
			b.WriteString(helpStyle.Render("  no items") + "\n")
		}
		for i, it := range m.items {
			m.writeRow(&b, i, nameStyle.Render(it.Title)+" "+metaStyle.Render(it.Category))
		}
		b.WriteString("\n")
		if m.state == stateFilter {
			b.WriteString(m.filter.View() + "\n\n")
			b.WriteString(helpStyle.Render("enter apply • esc cancel"))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • enter password • / website • esc back • q quit"))
		}

	case stateSecret:
		b.WriteString(nameStyle.Render(m.item.Title) + " " + metaStyle.Render(m.item.SecretReference("password")) + "\n\n")
		switch {
		case m.secret == nil:
			b.WriteString(helpStyle.Render("no password"))
		case m.reveal:
			b.WriteString(secretStyle.Render(m.secret.Expose()))
		default:
			b.WriteString(secretStyle.Render(strings.Repeat("•", 12)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("r reveal • enter/esc back • q quit"))
	}

	return b.String()
}

func (m *browser) writeRow(b *strings.Builder, i int, text string) {
	if i == m.cursor {
		b.WriteString(selectedStyle.Render("> ") + text)
	} else {
		b.WriteString("  " + text)
	}
	b.WriteString("\n")
}
