package music

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/samber/lo"
)

const (
	listingMarker    = "[<]"
	defaultWrapWidth = 80
)

// formatListing renders rows of "<n>." <entry> [<] with the marker on index.
func formatListing(entries []string, index int) string {
	rows := lo.Map(entries, func(entry string, i int) []string {
		marker := ""
		if i == index {
			marker = listingMarker
		}
		return []string{strconv.Itoa(i+1) + ".", entry, marker}
	})
	return FormatTable(rows, defaultWrapWidth)
}

func PlaylistListing(names []string, index int) string {
	return "Playlists:\n\n" + formatListing(names, index)
}

// FormatTable lays out a row-major table of strings. Each cell is wrapped at
// wrapWidth, columns are padded to their widest line and joined by tabs.
func FormatTable(rows [][]string, wrapWidth int) string {
	if len(rows) == 0 {
		return ""
	}

	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row))
	}

	// wrapped[row][col] holds the lines of one cell; every cell of a row has
	// the same number of lines.
	wrapped := make([][][]string, len(rows))
	for r, row := range rows {
		cells := make([][]string, cols)
		height := 1
		for c := 0; c < cols; c++ {
			text := ""
			if c < len(row) {
				text = row[c]
			}
			cells[c] = wrapText(text, wrapWidth)
			height = max(height, len(cells[c]))
		}
		for c := range cells {
			for len(cells[c]) < height {
				cells[c] = append(cells[c], "")
			}
		}
		wrapped[r] = cells
	}

	widths := make([]int, cols)
	for _, cells := range wrapped {
		for c, lines := range cells {
			for _, line := range lines {
				widths[c] = max(widths[c], runewidth.StringWidth(line))
			}
		}
	}

	var out []string
	for _, cells := range wrapped {
		for l := range cells[0] {
			parts := make([]string, cols)
			for c := 0; c < cols; c++ {
				parts[c] = runewidth.FillRight(cells[c][l], widths[c])
			}
			out = append(out, strings.Join(parts, "\t"))
		}
	}
	return strings.Join(out, "\n")
}

// wrapText breaks text into lines no wider than width, splitting on spaces
// and cutting words that do not fit on a line of their own.
func wrapText(text string, width int) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 || width <= 0 {
			lines = append(lines, paragraph)
			continue
		}

		line := ""
		for _, word := range words {
			for runewidth.StringWidth(word) > width {
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				head := runewidth.Truncate(word, width, "")
				if head == "" {
					head = string([]rune(word)[:1])
				}
				lines = append(lines, head)
				word = word[len(head):]
			}
			switch {
			case line == "":
				line = word
			case runewidth.StringWidth(line)+1+runewidth.StringWidth(word) <= width:
				line += " " + word
			default:
				lines = append(lines, line)
				line = word
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
