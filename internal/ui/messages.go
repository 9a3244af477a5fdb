package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/versely/stanza/internal/messaging"
	"github.com/versely/stanza/internal/models"
)

type threadOpenedMsg struct {
	messages []models.Message
	err      error
}

type sendResultMsg struct {
	err error
}

type threadSyncMsg struct{}

type MessagesModel struct {
	app      *App
	other    models.User
	thread   *messaging.Thread
	signaler *messaging.Signaler

	messages     []models.Message
	viewport     viewport.Model
	textarea     textarea.Model
	loading      bool
	sending      bool
	composing    bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewMessagesModel(app *App, other models.User) MessagesModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	signaler := messaging.NewSignaler(app.Store, app.UserID, other.ID,
		messaging.WithSignalerLog(app.Log),
		messaging.WithQuietPeriod(app.TypingQuiet),
	)
	thread := messaging.NewThread(app.Store, app.UserID, other,
		messaging.WithThreadLog(app.Log),
		messaging.WithThreadPageSize(app.ThreadPageSize),
		messaging.WithTyping(signaler),
	)

	return MessagesModel{
		app:          app,
		other:        other,
		thread:       thread,
		signaler:     signaler,
		viewport:     vp,
		textarea:     ta,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m MessagesModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.openThreadCmd())
}

func (m MessagesModel) openThreadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		messages, err := m.thread.Open(ctx)
		return threadOpenedMsg{messages: messages, err: err}
	}
}

func (m MessagesModel) sendMessageCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sendResultMsg{err: m.thread.Send(ctx, text)}
	}
}

func (m MessagesModel) retryCmd(tempID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sendResultMsg{err: m.thread.Retry(ctx, tempID)}
	}
}

// keystrokeCmd reports composing activity off the update loop so a slow
// store write never blocks typing.
func (m MessagesModel) keystrokeCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.signaler.Keystroke(ctx)
		return nil
	}
}

// syncTickCmd re-reads the thread while a send is in flight so the
// optimistic echo renders before the insert responds.
func syncTickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return threadSyncMsg{}
	})
}

func (m MessagesModel) leave() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	m.signaler.Stop(ctx)
	cancel()
	m.signaler.Close()

	convModel := NewConversationsModel(m.app)
	if m.windowWidth > 0 {
		updatedModel, cmd := convModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
		convModel = updatedModel.(ConversationsModel)
		return convModel, tea.Batch(convModel.Init(), cmd)
	}
	return convModel, convModel.Init()
}

func (m MessagesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height

		headerHeight := 6
		textareaHeight := 5
		helpHeight := 2
		availableHeight := msg.Height - headerHeight - helpHeight

		if m.composing {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = availableHeight - textareaHeight
			m.textarea.SetWidth(msg.Width - 4)
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = availableHeight
		}

		m.updateViewportContent()
		return m, nil

	case threadOpenedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.messages = msg.messages
		m.updateViewportContent()
		m.viewport.GotoBottom()
		return m, nil

	case sendResultMsg:
		m.sending = false
		m.err = msg.err
		m.messages = m.thread.Messages()
		m.updateViewportContent()
		m.viewport.GotoBottom()
		return m, nil

	case threadSyncMsg:
		m.messages = m.thread.Messages()
		m.updateViewportContent()
		m.viewport.GotoBottom()
		if m.sending {
			return m, syncTickCmd()
		}
		return m, nil

	case MessageEventMsg:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		changed := m.thread.ApplyMessageEvent(ctx, models.MessageEvent(msg))
		cancel()
		if changed {
			m.messages = m.thread.Messages()
			m.updateViewportContent()
			m.viewport.GotoBottom()
		}
		return m, nil

	case TypingEventMsg:
		m.thread.ApplyTypingEvent(models.TypingEvent(msg))
		return m, nil

	case spinner.TickMsg:
		if m.loading || m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			if m.composing {
				m.composing = false
				m.textarea.Reset()
				m.textarea.Blur()
				m.err = nil
				return m, nil
			}
			return m.leave()
		}

		if m.composing {
			switch msg.String() {
			case "ctrl+s":
				messageText := strings.TrimSpace(m.textarea.Value())
				if messageText != "" {
					m.sending = true
					m.composing = false
					m.textarea.Reset()
					m.textarea.Blur()
					return m, tea.Batch(
						m.spinner.Tick,
						m.sendMessageCmd(messageText),
						syncTickCmd(),
					)
				}
				return m, nil
			default:
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, tea.Batch(cmd, m.keystrokeCmd())
			}
		}

		if m.loading {
			return m, nil
		}

		switch msg.String() {
		case "n", "c":
			m.composing = true
			m.textarea.Focus()
			return m, textarea.Blink

		case "ctrl+r":
			if failed := m.thread.FailedMessages(); len(failed) > 0 {
				m.sending = true
				return m, tea.Batch(m.spinner.Tick, m.retryCmd(failed[0].ID), syncTickCmd())
			}
			return m, nil

		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.openThreadCmd())

		case "q":
			return m, tea.Quit

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *MessagesModel) updateViewportContent() {
	if len(m.messages) == 0 {
		m.viewport.SetContent("")
		return
	}

	var content strings.Builder
	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}

	for i, message := range m.messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := message.CreatedAt.Local().Format("3:04 PM")

		if message.SenderID == m.app.UserID {
			header := fmt.Sprintf("You • %s", timestamp)
			if message.Pending() && !message.Failed {
				header = fmt.Sprintf("You • sending %s", timestamp)
			}
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(messageHeaderStyle.Render(header)) + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			styledText := messageFromMeStyle.Render(wrappedText)
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(styledText) + "\n")

			if message.Failed {
				failNote := messageFailedStyle.Render("not sent - ctrl+r to resend")
				content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(failNote) + "\n")
			}
		} else {
			sender := m.other.DisplayName()
			if message.Sender != nil && message.Sender.Username != "" {
				sender = message.Sender.Username
			}
			header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp))
			content.WriteString(header + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			content.WriteString(messageFromOtherStyle.Render(wrappedText) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
}

func (m MessagesModel) View() string {
	if m.loading && len(m.messages) == 0 {
		return fmt.Sprintf("\n  %s Loading messages...\n", m.spinner.View())
	}

	s := titleStyle.Render(fmt.Sprintf("💬 %s", m.other.DisplayName())) + "\n\n"

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
	}

	if len(m.messages) == 0 && !m.loading {
		s += normalStyle.Render("  No messages yet. Say hello!") + "\n"
	} else {
		s += m.viewport.View() + "\n"
	}

	if m.thread.OtherTyping() {
		s += typingStyle.Render(fmt.Sprintf("%s is typing...", m.other.DisplayName())) + "\n"
	}

	if m.composing {
		s += "\n" + inputStyle.Render("New Message:") + "\n"
		s += m.textarea.View() + "\n"
		s += helpStyle.Render("ctrl+s: send • esc: cancel")
	} else if m.sending {
		s += fmt.Sprintf("\n  %s Sending...\n", m.spinner.View())
	} else {
		scrollPercent := int(m.viewport.ScrollPercent() * 100)
		helpText := fmt.Sprintf("↑↓/jk: scroll • n: compose • r: refresh • esc: back • q: quit • %d%%", scrollPercent)
		if len(m.thread.FailedMessages()) > 0 {
			helpText = "ctrl+r: resend failed • " + helpText
		}
		s += "\n" + helpStyle.Render(helpText)
	}

	return s
}
