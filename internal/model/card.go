package model

import (
	"fmt"
	"strconv"
	"strings"
)

// OverviewPreviewLen is the number of characters shown in a candidate row.
const OverviewPreviewLen = 250

// cardListLimit caps how many cast members or directors a card shows.
const cardListLimit = 3

// Year returns the release year, or 0 if the release date is missing or malformed.
// Both "2010-07-16" and "2010-07-16T00:00:00Z" are accepted.
func (m Movie) Year() int {
	if len(m.ReleaseDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(m.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return y
}

// Heading renders "Title (Year)".
func (m Movie) Heading() string {
	if y := m.Year(); y > 0 {
		return fmt.Sprintf("%s (%d)", m.Title, y)
	}
	return m.Title
}

// GenreList renders the genres separated by ", ".
func (m Movie) GenreList() string {
	return joinList(m.Genres, 0)
}

// CastList renders up to three cast members.
func (m Movie) CastList() string {
	return joinList(m.Cast, cardListLimit)
}

// DirectorList renders up to three directors.
func (m Movie) DirectorList() string {
	return joinList(m.Directors, cardListLimit)
}

// Rating renders the average vote as "x/10".
func (m Movie) Rating() string {
	return strconv.FormatFloat(m.VoteAverage, 'f', -1, 64) + "/10"
}

// RuntimeLabel renders the runtime as "n mins".
func (m Movie) RuntimeLabel() string {
	return fmt.Sprintf("%d mins", m.Runtime)
}

// OverviewPreview truncates the overview for the candidate dropdown.
func (m Movie) OverviewPreview() string {
	r := []rune(m.Overview)
	if len(r) <= OverviewPreviewLen {
		return m.Overview
	}
	return string(r[:OverviewPreviewLen]) + " ..."
}

func joinList(csv string, limit int) string {
	if csv == "" {
		return ""
	}
	parts := strings.Split(csv, ",")
	if limit > 0 && len(parts) > limit {
		parts = parts[:limit]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}
