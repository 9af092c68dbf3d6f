package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

var (
	colorAccent = lipgloss.Color("#00B4D8")
	colorMuted  = lipgloss.Color("#6C7A89")
	colorWarn   = lipgloss.Color("#FFBA08")

	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleAxis     = lipgloss.NewStyle().Width(14)
	styleSelected = lipgloss.NewStyle().Bold(true)
	styleActive   = lipgloss.NewStyle().Foreground(colorWarn)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleBox      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

// maxShownOptions caps the option preview printed per axis.
const maxShownOptions = 6

// renderState prints one line per active axis: the selected value, or the
// offered options when the axis is still open.
func renderState(w io.Writer, st domain.State) {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Selection"))
	b.WriteByte('\n')
	for _, axis := range st.Order() {
		name := styleAxis.Render(string(axis))
		value := st.Path.Get(axis)
		opts := st.OptionsFor(axis)
		switch {
		case value != "":
			b.WriteString(name + styleSelected.Render(value))
			if len(opts) > 1 {
				b.WriteString(styleMuted.Render(fmt.Sprintf("  (%d options)", len(opts))))
			}
		case axis == st.Active && len(opts) > 0:
			b.WriteString(name + styleActive.Render("choose: ") + previewOptions(opts))
		case axis == st.Active:
			b.WriteString(name + styleActive.Render("no options available"))
		default:
			b.WriteString(name + styleMuted.Render("-"))
		}
		b.WriteByte('\n')
	}
	if st.Feature != "" {
		b.WriteString(styleAxis.Render("feature") + styleSelected.Render(st.Feature) + "\n")
	}
	fmt.Fprint(w, styleBox.Render(strings.TrimRight(b.String(), "\n"))+"\n")
}

func previewOptions(opts []domain.Option) string {
	labels := make([]string, 0, maxShownOptions)
	for i, o := range opts {
		if i == maxShownOptions {
			labels = append(labels, styleMuted.Render(fmt.Sprintf("+%d more", len(opts)-i)))
			break
		}
		labels = append(labels, o.Label)
	}
	return strings.Join(labels, ", ")
}

func renderSeries(w io.Writer, title, units string, points []domain.Point) {
	fmt.Fprintln(w, styleTitle.Render(title))
	for _, p := range points {
		v := styleMuted.Render("no data")
		if p.Value != nil {
			v = fmt.Sprintf("%.4g %s", *p.Value, units)
		}
		fmt.Fprintf(w, "  %s  %s\n", p.Time.Format("2006-01-02 15:04"), v)
	}
}

// swatch renders a feature as a colored block, wider for larger values.
func swatch(f animation.FeatureStyle) string {
	c := f.Color
	hex := fmt.Sprintf("#%02X%02X%02X", c[0], c[1], c[2])
	cells := max(1, int(f.Width/3))
	return lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render(strings.Repeat(" ", cells))
}

func renderFrame(w io.Writer, fr animation.Frame, maxFeatures int) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  [%d/%d]  %s\n",
		styleTitle.Render(fr.Label),
		fr.Time.Format("2006-01-02 15:04"),
		fr.TimeIndex+1, fr.NumTimes,
		styleMuted.Render(fmt.Sprintf("%s %.3g..%.3g", fr.Variable, fr.Bounds.Min, fr.Bounds.Max)))
	for i, f := range fr.Features {
		if i == maxFeatures {
			b.WriteString(styleMuted.Render(fmt.Sprintf("  ... %d more features", len(fr.Features)-i)))
			b.WriteByte('\n')
			break
		}
		v := styleMuted.Render("no data")
		if f.Value != nil {
			v = fmt.Sprintf("%.4g", *f.Value)
		}
		fmt.Fprintf(&b, "  %-10d %s %s\n", f.FeatureID, swatch(f), v)
	}
	fmt.Fprint(w, b.String())
}

func renderEntries(w io.Writer, entries []cache.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, styleMuted.Render("cache is empty"))
		return
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
		fmt.Fprintf(w, "%-9s %-8s %s  %s\n",
			e.Size, e.Format, e.ModTime.Format("2006-01-02 15:04"), e.Key)
	}
	fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf("%d entries, %s", len(entries), cache.HumanSize(total))))
}
