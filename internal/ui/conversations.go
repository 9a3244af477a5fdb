package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/versely/stanza/internal/models"
)

type conversationItem struct {
	convo models.Conversation
}

type conversationsFetchedMsg struct {
	convos []models.Conversation
	err    error
}

func (i conversationItem) Title() string {
	title := i.convo.Other.DisplayName()
	if i.convo.Unread {
		title = unreadStyle.Render("● ") + title
	}
	return title
}

func (i conversationItem) Description() string {
	last := i.convo.LastMessage
	timeAgo := formatTimeAgo(last.CreatedAt)
	preview := last.Content
	if len(preview) > 50 {
		preview = preview[:47] + "..."
	}
	return fmt.Sprintf("%s • %s", timeAgo, preview)
}

func (i conversationItem) FilterValue() string {
	return i.convo.Other.DisplayName()
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	now := time.Now()
	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < 2*time.Minute {
		return "1 min ago"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 2*time.Hour {
		return "1h ago"
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	if duration < 48*time.Hour {
		return "yesterday"
	}
	if duration < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
	return t.Format("Jan 2")
}

type ConversationsModel struct {
	app          *App
	convos       []models.Conversation
	list         list.Model
	loading      bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewConversationsModel(app *App) ConversationsModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ConversationsModel{
		app:          app,
		list:         l,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ConversationsModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchConversationsCmd())
}

func (m ConversationsModel) fetchConversationsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		convos, err := m.app.List.Refresh(ctx)
		return conversationsFetchedMsg{convos: convos, err: err}
	}
}

func (m ConversationsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case conversationsFetchedMsg:
		m.loading = false
		m.err = msg.err
		// A failed refresh still carries the previous (or snapshot) list.
		m.convos = msg.convos
		items := make([]list.Item, len(m.convos))
		for i, convo := range m.convos {
			items[i] = conversationItem{convo: convo}
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Conversations - %d", len(m.convos))
		return m, nil

	case MessageEventMsg:
		// New traffic anywhere re-aggregates the list.
		if !m.loading {
			return m, m.fetchConversationsCmd()
		}
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			menuModel := NewMenuModel(m.app)
			return menuModel, menuModel.Init()
		}

		if msg.String() == "r" && !m.loading {
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchConversationsCmd())
		}

		if msg.String() == "n" {
			newConvModel := NewNewConversationModel(m.app)
			return newConvModel, newConvModel.Init()
		}

		if msg.String() == "enter" && len(m.convos) > 0 && !m.loading {
			if item, ok := m.list.SelectedItem().(conversationItem); ok {
				messagesModel := NewMessagesModel(m.app, item.convo.Other)
				if m.windowWidth > 0 {
					updatedModel, cmd := messagesModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
					messagesModel = updatedModel.(MessagesModel)
					return messagesModel, tea.Batch(messagesModel.Init(), cmd)
				}
				return messagesModel, messagesModel.Init()
			}
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ConversationsModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	if m.err != nil && len(m.convos) == 0 {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("Check your connection and database_url in ~/.stanza/config.yml") + "\n"
		s += helpStyle.Render("r: retry • q: quit")
		return s
	}

	if len(m.convos) == 0 {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += normalStyle.Render("  No conversations yet.") + "\n"
		s += "\n" + helpStyle.Render("n: new message • r: refresh • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	if m.err != nil {
		s += errorStyle.Render("offline - showing last known conversations") + "\n"
	}
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • n: new message • /: search • r: refresh • esc: back • q: quit")

	return s
}
