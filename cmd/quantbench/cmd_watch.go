package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"quantbench/internal/api"
	"quantbench/internal/domain"
	"quantbench/pkg/quantbench"
)

var (
	watchPlain bool

	watchCmd = &cobra.Command{
		Use:   "watch ID",
		Short: "Follow a backtest's status live",
		Long: `Follow a backtest over the server's WebSocket feed until it finishes.

Keys: q quit, c cancel the run, pgup/pgdn scroll.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().StringVar(&serverURL, "server", defaultServer(), "quantbench-server base URL")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print frames as lines instead of a full-screen view")
	rootCmd.AddCommand(watchCmd)
}

// watchURL maps the server's base URL to the run's WebSocket endpoint.
func watchURL(base, id string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/backtests/" + url.PathEscape(id) + "/ws"
	return u.String(), nil
}

// frameMsg carries one frame, or the error that ended the feed.
type frameMsg struct {
	frame api.WatchMessage
	err   error
}

// readFrames pumps the connection into ch until it closes.
func readFrames(conn *websocket.Conn, ch chan<- frameMsg) {
	defer close(ch)
	for {
		var m api.WatchMessage
		if err := conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				ch <- frameMsg{err: err}
			}
			return
		}
		ch <- frameMsg{frame: m}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	id := args[0]
	wsURL, err := watchURL(serverURL, id)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: backtest %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	frames := make(chan frameMsg, 16)
	go readFrames(conn, frames)

	if watchPlain || jsonOutput {
		for f := range frames {
			if f.err != nil {
				return f.err
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), f.frame); err != nil {
					return err
				}
				continue
			}
			fmt.Fprint(cmd.OutOrStdout(), frameLine(f.frame))
			if f.frame.Result != nil {
				fmt.Fprint(cmd.OutOrStdout(), renderResult(f.frame.Result, statusTrades))
			}
		}
		return nil
	}

	client := quantbench.NewClient(serverURL)
	p := tea.NewProgram(newWatchModel(id, frames, client), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func frameLine(f api.WatchMessage) string {
	switch {
	case f.Event != nil:
		return fmt.Sprintf("%s  %s\n", dimStyle.Render(f.Event.Time.Local().Format("15:04:05")), statusStyle(f.Event.Status).Render(string(f.Event.Status)))
	case f.Result != nil:
		return fmt.Sprintf("%s  %s\n", dimStyle.Render(time.Now().Format("15:04:05")), statusStyle(f.Result.Status).Render(string(f.Result.Status)))
	}
	return ""
}

type cancelledMsg struct{ err error }

type watchModel struct {
	id       string
	frames   <-chan frameMsg
	client   *quantbench.Client
	status   domain.RunStatus
	log      []string
	result   *domain.BacktestResult
	notice   string
	err      error
	viewport viewport.Model
	ready    bool
	width    int
}

func newWatchModel(id string, frames <-chan frameMsg, client *quantbench.Client) watchModel {
	return watchModel{id: id, frames: frames, client: client}
}

func waitFrame(ch <-chan frameMsg) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return nil
		}
		return f
	}
}

func (m watchModel) Init() tea.Cmd {
	return waitFrame(m.frames)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			if m.result != nil || m.client == nil {
				return m, nil
			}
			client, id := m.client, m.id
			m.notice = "cancel requested"
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return cancelledMsg{err: client.CancelBacktest(ctx, id)}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		vpHeight := msg.Height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.content())
		return m, nil

	case cancelledMsg:
		if msg.err != nil {
			m.notice = "cancel failed: " + msg.err.Error()
		}
		return m, nil

	case frameMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m = m.apply(msg.frame)
		if m.ready {
			m.viewport.SetContent(m.content())
		}
		if m.result != nil {
			return m, nil
		}
		return m, waitFrame(m.frames)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply records one frame.
func (m watchModel) apply(f api.WatchMessage) watchModel {
	m.log = append(m.log, frameLine(f))
	switch {
	case f.Result != nil:
		m.result = f.Result
		m.status = f.Result.Status
		m.notice = ""
	case f.Event != nil:
		m.status = f.Event.Status
	}
	return m
}

func (m watchModel) content() string {
	var b strings.Builder
	for _, l := range m.log {
		b.WriteString(l)
	}
	if m.result != nil {
		b.WriteString("\n")
		b.WriteString(renderResult(m.result, len(m.result.Trades)))
	}
	return b.String()
}

func (m watchModel) View() string {
	if !m.ready {
		return "Connecting..."
	}
	status := string(m.status)
	if status == "" {
		status = "..."
	}
	headerText := fmt.Sprintf(" backtest %s  %s ", m.id, status)
	if m.notice != "" {
		headerText += "  " + m.notice + " "
	}
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Width(m.width).
		Render(headerText)
	footerBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Width(m.width).
		Render(" q quit  c cancel  pgup/dn scroll")
	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}
