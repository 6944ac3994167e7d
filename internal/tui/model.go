// Package tui is the terminal presentation of a session.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bryan-buckman/movierec/internal/model"
	"github.com/bryan-buckman/movierec/internal/poster"
	"github.com/bryan-buckman/movierec/internal/session"
)

type pane int

const (
	paneQuery pane = iota
	paneCandidates
	paneFavourites
	paneYears
	paneRecommendations
	paneCount
)

// updateMsg carries a published session update.
type updateMsg session.Update

// closedMsg reports that the subscription ended.
type closedMsg struct{}

// Model is the bubbletea model for one session.
type Model struct {
	ctx    context.Context
	store  *session.Store
	sub    *session.Subscription
	loader *poster.Loader

	input   textinput.Model
	spinner spinner.Model
	help    help.Model

	state   session.State
	notice  *session.Notice
	focus   pane
	cursor  [paneCount]int
	maxEdge bool // editing the upper year bound

	// requested holds posters already handed to the loader.
	requested map[session.PosterKey]bool
}

// New creates a model bound to store. Posters are fetched through loader.
func New(ctx context.Context, store *session.Store, loader *poster.Loader) Model {
	ti := textinput.New()
	ti.Placeholder = "Search for a movie title..."
	ti.CharLimit = 100
	ti.Width = 40
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	return Model{
		ctx:       ctx,
		store:     store,
		sub:       store.Subscribe(session.DefaultSubscriptionBuffer),
		loader:    loader,
		input:     ti,
		spinner:   sp,
		help:      help.New(),
		state:     store.State(),
		requested: make(map[session.PosterKey]bool),
	}
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, store *session.Store, loader *poster.Loader) error {
	m := New(ctx, store, loader)
	defer m.sub.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdate())
}

func (m Model) waitForUpdate() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		up, ok := <-sub.C
		if !ok {
			return closedMsg{}
		}
		return updateMsg(up)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case updateMsg:
		m.state = msg.State
		if msg.Notice != nil {
			m.notice = msg.Notice
		}
		m.clampCursors()
		return m, tea.Batch(m.waitForUpdate(), m.loadPosters())

	case closedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.focus == paneQuery {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Next):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil
	case key.Matches(msg, keys.Prev):
		m.setFocus((m.focus + paneCount - 1) % paneCount)
		return m, nil
	case key.Matches(msg, keys.Recommend):
		m.notice = nil
		_ = m.store.RequestRecommendations()
		return m, nil
	}

	switch m.focus {
	case paneQuery:
		if key.Matches(msg, keys.Select, keys.Down) && len(m.state.Candidates) > 0 {
			m.setFocus(paneCandidates)
			return m, nil
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != before {
			m.notice = nil
			m.store.SetQuery(v)
		}
		return m, cmd

	case paneCandidates, paneFavourites, paneRecommendations:
		return m.handleListKey(msg)

	case paneYears:
		return m.handleYearsKey(msg)
	}
	return m, nil
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	list := m.focusedList()
	movies := m.state.Movies(list)
	cur := &m.cursor[m.focus]

	switch {
	case key.Matches(msg, keys.Up):
		if *cur > 0 {
			*cur--
		}
	case key.Matches(msg, keys.Down):
		if *cur < len(movies)-1 {
			*cur++
		}
	case key.Matches(msg, keys.Select) && m.focus == paneCandidates:
		if len(movies) == 0 || !m.state.CanSelect() {
			return m, nil
		}
		if err := m.store.SelectCandidate(movies[*cur].ID); err == nil {
			m.input.SetValue("")
			m.setFocus(paneQuery)
		}
	case key.Matches(msg, keys.Remove) && m.focus == paneFavourites:
		if len(movies) > 0 {
			m.store.RemoveFavourite(movies[*cur].ID)
		}
	}
	return m, nil
}

func (m Model) handleYearsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	years := m.state.Years
	switch {
	case key.Matches(msg, keys.Left):
		m.maxEdge = false
		return m, nil
	case key.Matches(msg, keys.Right):
		m.maxEdge = true
		return m, nil
	case key.Matches(msg, keys.Up):
		m.stepYear(&years, 1)
	case key.Matches(msg, keys.Down):
		m.stepYear(&years, -1)
	default:
		return m, nil
	}
	if years != m.state.Years {
		_ = m.store.SetYearRange(years.Min, years.Max)
	}
	return m, nil
}

// stepYear moves the edited bound by delta, keeping the range inside the
// offered years and never inverted.
func (m Model) stepYear(y *model.YearRange, delta int) {
	if m.maxEdge {
		y.Max = min(max(y.Max+delta, y.Min), model.MaxYear)
	} else {
		y.Min = max(min(y.Min+delta, y.Max), model.MinYear)
	}
}

func (m *Model) setFocus(p pane) {
	m.focus = p
	if p == paneQuery {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m Model) focusedList() session.List {
	switch m.focus {
	case paneFavourites:
		return session.ListFavourites
	case paneRecommendations:
		return session.ListRecommendations
	}
	return session.ListCandidates
}

func (m *Model) clampCursors() {
	for p, list := range map[pane]session.List{
		paneCandidates:      session.ListCandidates,
		paneFavourites:      session.ListFavourites,
		paneRecommendations: session.ListRecommendations,
	} {
		n := len(m.state.Movies(list))
		m.cursor[p] = max(0, min(m.cursor[p], n-1))
	}
}

// loadPosters hands posters still loading to the loader. Each is requested
// once for as long as it stays displayed.
func (m Model) loadPosters() tea.Cmd {
	for k := range m.requested {
		if _, shown := m.state.Posters[k]; !shown {
			delete(m.requested, k)
		}
	}

	var cmds []tea.Cmd
	for _, list := range []session.List{session.ListCandidates, session.ListFavourites, session.ListRecommendations} {
		var items []poster.Item
		for _, mv := range m.state.Movies(list) {
			k := session.PosterKey{List: list, MovieID: mv.ID}
			if m.state.Posters[k] != session.PosterLoading || m.requested[k] {
				continue
			}
			m.requested[k] = true
			items = append(items, poster.Item{MovieID: mv.ID, Ref: mv.Poster})
		}
		if len(items) == 0 {
			continue
		}
		ctx, store, loader := m.ctx, m.store, m.loader
		cmds = append(cmds, func() tea.Msg {
			loader.LoadAll(ctx, items, func(it poster.Item, err error) {
				if err == nil {
					store.PosterLoaded(list, it.MovieID)
				}
			})
			return nil
		})
	}
	return tea.Batch(cmds...)
}
