package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bryan-buckman/movierec/internal/model"
	"github.com/bryan-buckman/movierec/internal/session"
)

var (
	accentColor = lipgloss.Color("#F25D94")
	subtleColor = lipgloss.Color("241")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(accentColor).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	focusedStyle = sectionStyle.Foreground(accentColor)
	cursorStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	metaStyle    = lipgloss.NewStyle().Foreground(subtleColor)
	hintStyle    = lipgloss.NewStyle().Foreground(subtleColor).Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#E06C75")).
			Padding(0, 1).
			MarginTop(1)
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Movie Recommendations"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.state.Searching {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")

	if n := m.notice; n != nil {
		b.WriteString(noticeStyle.Render(n.Title + "\n" + n.Description))
		b.WriteString("\n")
	}

	b.WriteString(m.header(paneCandidates, "Results"))
	if !m.state.CanSelect() && len(m.state.Candidates) > 0 {
		b.WriteString("  " + hintStyle.Render(session.SelectDisabledHint))
	}
	b.WriteString("\n")
	m.writeList(&b, paneCandidates, session.ListCandidates, true)

	b.WriteString(m.header(paneFavourites, fmt.Sprintf("Favourites %d/%d", m.state.Favourites.Len(), session.Capacity)))
	b.WriteString("\n")
	if m.state.Favourites.Len() == 0 {
		b.WriteString(metaStyle.Render("  No favourites yet.") + "\n")
	}
	m.writeList(&b, paneFavourites, session.ListFavourites, false)

	b.WriteString(m.header(paneYears, "Release years"))
	b.WriteString("\n  " + m.yearsView() + "\n")

	b.WriteString(m.header(paneRecommendations, "Recommendations"))
	if m.state.Recommending {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")
	m.writeList(&b, paneRecommendations, session.ListRecommendations, false)

	b.WriteString("\n" + m.help.View(keys))
	return b.String()
}

func (m Model) header(p pane, title string) string {
	if m.focus == p {
		return focusedStyle.Render("▸ " + title)
	}
	return sectionStyle.Render("  " + title)
}

func (m Model) writeList(b *strings.Builder, p pane, list session.List, preview bool) {
	for i, mv := range m.state.Movies(list) {
		marker := "  "
		line := mv.Heading()
		if m.focus == p && i == m.cursor[p] {
			marker = cursorStyle.Render("> ")
			line = cursorStyle.Render(line)
		}
		b.WriteString(marker + line + " " + m.posterMark(list, mv) + "\n")
		if meta := cardMeta(mv, preview); meta != "" {
			b.WriteString("    " + metaStyle.Render(meta) + "\n")
		}
	}
}

func (m Model) posterMark(list session.List, mv model.Movie) string {
	if mv.Poster == "" {
		return ""
	}
	if m.state.Poster(list, mv.ID) == session.PosterLoaded {
		return metaStyle.Render("[poster]")
	}
	return m.spinner.View()
}

func cardMeta(mv model.Movie, preview bool) string {
	var parts []string
	if g := mv.GenreList(); g != "" {
		parts = append(parts, g)
	}
	if mv.Runtime > 0 {
		parts = append(parts, mv.RuntimeLabel())
	}
	if mv.VoteAverage > 0 {
		parts = append(parts, mv.Rating())
	}
	if preview {
		if o := mv.OverviewPreview(); o != "" {
			parts = append(parts, o)
		}
	}
	return strings.Join(parts, " · ")
}

func (m Model) yearsView() string {
	lo := fmt.Sprintf("%d", m.state.Years.Min)
	hi := fmt.Sprintf("%d", m.state.Years.Max)
	if m.focus == paneYears {
		if m.maxEdge {
			hi = cursorStyle.Render("[" + hi + "]")
		} else {
			lo = cursorStyle.Render("[" + lo + "]")
		}
	}
	return lo + " – " + hi
}
