package main

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type submitFunc func(ctx context.Context, address domain.ContractAddress) (domain.View, domain.Outcome)

type tuiModel struct {
	ctx       context.Context
	submit    submitFunc
	serverURL string

	input    textinput.Model
	view     domain.View
	outcome  domain.Outcome
	last     domain.ContractAddress
	checking bool
	notice   string
	width    int
}

type submitResultMsg struct {
	address domain.ContractAddress
	view    domain.View
	outcome domain.Outcome
}

func runTUI(ctx context.Context, poller *services.StatusPoller, serverURL, initial string) error {
	m := newTUIModel(ctx, poller.Submit, serverURL, initial)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("ui requires an interactive terminal (TTY)")
		}
		return err
	}
	return nil
}

func newTUIModel(ctx context.Context, submit submitFunc, serverURL, initial string) tuiModel {
	if ctx == nil {
		ctx = context.Background()
	}
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "<Contract Address Here>"
	input.CharLimit = 256
	input.Width = 48
	input.SetValue(initial)
	input.Focus()
	return tuiModel{
		ctx:       ctx,
		submit:    submit,
		serverURL: serverURL,
		input:     input,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = clampInt(msg.Width-8, 20, 80)
		return m, nil
	case submitResultMsg:
		m.checking = false
		m.view = msg.view
		m.outcome = msg.outcome
		m.notice = ""
		if msg.outcome.IsSuccess() && !msg.outcome.Response.Status.IsKnown() {
			m.notice = "unrecognized status " + string(msg.outcome.Response.Status) + "; nothing changed"
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			address := domain.ContractAddress(m.input.Value()).Trimmed()
			if address.IsEmpty() {
				m.notice = "enter a contract address"
				return m, nil
			}
			return m.start(address)
		case "ctrl+r":
			if m.last.IsEmpty() {
				m.notice = "nothing to retry yet"
				return m, nil
			}
			return m.start(m.last)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// start issues one query unless another is already in flight.
func (m tuiModel) start(address domain.ContractAddress) (tea.Model, tea.Cmd) {
	if m.checking {
		return m, nil
	}
	m.checking = true
	m.last = address
	m.notice = ""
	return m, checkCollectionCmd(m.ctx, m.submit, address)
}

func checkCollectionCmd(ctx context.Context, submit submitFunc, address domain.ContractAddress) tea.Cmd {
	return func() tea.Msg {
		view, out := submit(ctx, address)
		return submitResultMsg{address: address, view: view, outcome: out}
	}
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render("NFT Batch Download"))
	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render("Download an NFT collection to S3 · " + m.serverURL))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if hint := addressHint(domain.ContractAddress(m.input.Value()).Trimmed()); hint != "" {
		b.WriteString(tuiMutedStyle.Render(hint))
		b.WriteString("\n")
	}

	var body []string
	switch {
	case m.checking:
		body = append(body, tuiMutedStyle.Render("checking "+string(m.last)+"..."))
	case m.view.HasError():
		body = append(body, tuiErrorStyle.Render(m.view.Error))
		body = append(body, tuiMutedStyle.Render("ctrl+r: retry "+string(m.last)))
	}
	if m.view.Message != "" {
		body = append(body, tuiOKStyle.Render(m.view.Message))
	}
	if m.view.HasLink() {
		body = append(body, "View the images here: "+m.view.ArchiveLink)
	}
	if m.notice != "" {
		body = append(body, tuiMutedStyle.Render(m.notice))
	}
	if len(body) > 0 {
		b.WriteString("\n")
		b.WriteString(tuiPanelStyle.Render(strings.Join(body, "\n")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render("enter: submit | ctrl+r: retry | esc: quit"))
	return b.String()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
