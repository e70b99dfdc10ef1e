package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"investments/internal/app"
	cl "investments/internal/cli"
	"investments/internal/notify"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	watchRefresh  = 15 * time.Second
	watchFeedSize = 8
)

var (
	quitKey    = key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit"))
	collectKey = key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "collect"))
	refreshKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh"))

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B50FF"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#858392"))
	feedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFB2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E94090"))
)

type profileMsg struct {
	view app.ProfileView
	err  error
}

type payoutMsg notify.Message

type streamClosedMsg struct{ err error }

type collectedMsg struct {
	status string
	err    error
}

type refreshMsg struct{}

type watchModel struct {
	ctx     context.Context
	client  *cl.Client
	token   string
	payouts <-chan notify.Message
	closed  <-chan error

	spinner spinner.Model
	view    *app.ProfileView
	feed    []string
	status  string
	err     error
}

func newWatchModel(ctx context.Context, client *cl.Client, token string, payouts <-chan notify.Message, closed <-chan error) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{ctx: ctx, client: client, token: token, payouts: payouts, closed: closed, spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchProfile(), m.waitPayout(), m.waitClosed(), scheduleRefresh())
}

func (m watchModel) fetchProfile() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		v, err := m.client.Profile(ctx, m.token)
		return profileMsg{view: v, err: err}
	}
}

func (m watchModel) collect() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		out, err := m.client.Collect(ctx, m.token)
		if err != nil {
			return collectedMsg{err: explain(err)}
		}
		amount := decimalField(out, "collected")
		if !amount.IsPositive() {
			return collectedMsg{status: "nothing to collect"}
		}
		return collectedMsg{status: "collected " + money(amount)}
	}
}

func (m watchModel) waitPayout() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.payouts
		if !ok {
			return nil
		}
		return payoutMsg(msg)
	}
}

func (m watchModel) waitClosed() tea.Cmd {
	return func() tea.Msg {
		return streamClosedMsg{err: <-m.closed}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(watchRefresh, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKey):
			return m, tea.Quit
		case key.Matches(msg, collectKey):
			return m, m.collect()
		case key.Matches(msg, refreshKey):
			return m, m.fetchProfile()
		}
	case refreshMsg:
		return m, tea.Batch(m.fetchProfile(), scheduleRefresh())
	case profileMsg:
		m.err = msg.err
		if msg.err == nil {
			m.view = &msg.view
		}
	case payoutMsg:
		line := fmt.Sprintf("%s  %s", msg.At.Local().Format("15:04:05"), msg.Text)
		m.feed = append([]string{line}, m.feed...)
		if len(m.feed) > watchFeedSize {
			m.feed = m.feed[:watchFeedSize]
		}
		return m, tea.Batch(m.waitPayout(), m.fetchProfile())
	case collectedMsg:
		m.err = msg.err
		m.status = msg.status
		return m, m.fetchProfile()
	case streamClosedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("live updates stopped: %w", msg.err)
		} else {
			m.status = "live updates stopped"
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Investments") + " " + m.spinner.View() + "\n\n")
	if m.view == nil {
		b.WriteString(mutedStyle.Render("loading profile...") + "\n")
	} else {
		b.WriteString(boxStyle.Render(profileSummary(*m.view)) + "\n")
		b.WriteString(holdingsTable(*m.view) + "\n")
	}
	b.WriteString("\n" + titleStyle.Render("Payouts") + "\n")
	if len(m.feed) == 0 {
		b.WriteString(mutedStyle.Render("waiting for the next interest tick") + "\n")
	}
	for _, line := range m.feed {
		b.WriteString(feedStyle.Render(line) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("%s %s  %s %s  %s %s",
		quitKey.Help().Key, quitKey.Help().Desc,
		collectKey.Help().Key, collectKey.Help().Desc,
		refreshKey.Help().Key, refreshKey.Help().Desc,
	)))
	return b.String()
}

func runWatch(ctx context.Context, client *cl.Client, token string, heartbeat time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	payouts := make(chan notify.Message, 16)
	closed := make(chan error, 1)
	go func() {
		closed <- client.Watch(ctx, token, heartbeat, func(msg notify.Message) {
			select {
			case payouts <- msg:
			case <-ctx.Done():
			}
		})
	}()

	p := tea.NewProgram(newWatchModel(ctx, client, token, payouts, closed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
