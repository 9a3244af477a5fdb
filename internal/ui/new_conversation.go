package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/versely/stanza/internal/models"
)

type userItem struct {
	user models.User
}

func (i userItem) Title() string       { return i.user.DisplayName() }
func (i userItem) Description() string { return i.user.ID }
func (i userItem) FilterValue() string { return i.user.DisplayName() }

type usersFoundMsg struct {
	users []models.User
	err   error
}

type NewConversationModel struct {
	app          *App
	searchInput  textinput.Model
	results      list.Model
	users        []models.User
	searching    bool
	err          error
	windowWidth  int
	windowHeight int
}

func NewNewConversationModel(app *App) NewConversationModel {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search poets by username..."
	searchInput.Focus()
	searchInput.CharLimit = 50
	searchInput.Width = 60

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 14)
	l.Title = "Results"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return NewConversationModel{
		app:         app,
		searchInput: searchInput,
		results:     l,
	}
}

func (m NewConversationModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m NewConversationModel) searchCmd(query string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		users, err := m.app.Users.SearchUsers(ctx, query, 20)
		return usersFoundMsg{users: users, err: err}
	}
}

func (m NewConversationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.searchInput.Width = msg.Width - 20
		m.results.SetWidth(msg.Width)
		m.results.SetHeight(msg.Height - 10)
		return m, nil

	case usersFoundMsg:
		m.searching = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.users = nil
		items := make([]list.Item, 0, len(msg.users))
		for _, u := range msg.users {
			if u.ID == m.app.UserID {
				continue
			}
			m.users = append(m.users, u)
			items = append(items, userItem{user: u})
		}
		m.results.SetItems(items)
		m.results.Title = fmt.Sprintf("Results - %d", len(items))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			conversationsModel := NewConversationsModel(m.app)
			if m.windowWidth > 0 {
				updatedModel, cmd := conversationsModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
				conversationsModel = updatedModel.(ConversationsModel)
				return conversationsModel, tea.Batch(conversationsModel.Init(), cmd)
			}
			return conversationsModel, conversationsModel.Init()

		case "enter":
			if m.searchInput.Focused() {
				query := m.searchInput.Value()
				if query == "" {
					return m, nil
				}
				m.searching = true
				return m, m.searchCmd(query)
			}

			if item, ok := m.results.SelectedItem().(userItem); ok {
				messagesModel := NewMessagesModel(m.app, item.user)
				if m.windowWidth > 0 {
					updatedModel, cmd := messagesModel.Update(tea.WindowSizeMsg{Width: m.windowWidth, Height: m.windowHeight})
					messagesModel = updatedModel.(MessagesModel)
					return messagesModel, tea.Batch(messagesModel.Init(), cmd)
				}
				return messagesModel, messagesModel.Init()
			}
			return m, nil

		case "tab":
			if m.searchInput.Focused() {
				m.searchInput.Blur()
			} else {
				m.searchInput.Focus()
				return m, textinput.Blink
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.searchInput.Focused() {
		m.searchInput, cmd = m.searchInput.Update(msg)
	} else {
		m.results, cmd = m.results.Update(msg)
	}
	return m, cmd
}

func (m NewConversationModel) View() string {
	content := titleStyle.Render("New Message") + "\n\n"
	content += inputStyle.Render("To:") + "\n"
	content += m.searchInput.View() + "\n\n"

	if m.err != nil {
		content += errorStyle.Render("Error: "+m.err.Error()) + "\n\n"
	}

	if m.searching {
		content += statusStyle.Render("Searching...") + "\n"
	} else if len(m.users) > 0 {
		content += m.results.View() + "\n"
	}

	content += "\n" + helpStyle.Render("enter: search/open • tab: switch focus • esc: back • ctrl+c: quit")

	return content
}
