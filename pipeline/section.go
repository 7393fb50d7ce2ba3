package pipeline

import (
	"errors"
	"strings"
)

type SectionKind string

const (
	SectionShort   SectionKind = "short"
	SectionComplex SectionKind = "complex"
	SectionChart   SectionKind = "chart"
	SectionJoke    SectionKind = "joke"
	SectionMeme    SectionKind = "meme"
)

// Section is one part of the answer document. Text holds short, complex and
// joke content; Code, Markdown and URL belong to charts; URL also locates a
// meme.
type Section struct {
	Kind     SectionKind
	Text     string
	Code     string
	Markdown string
	URL      string
}

// Outcome is a section or the reason it was skipped.
type Outcome struct {
	Section Section
	Skip    error
}

// ErrNoChartData marks a chart the model found nothing to plot for.
var ErrNoChartData = errors.New("no chart data")

var errEmptySection = errors.New("section is empty")

func skipped(kind SectionKind, err error) Outcome {
	return Outcome{Section: Section{Kind: kind}, Skip: err}
}

func textOutcome(kind SectionKind, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return skipped(kind, errEmptySection)
	}
	return Outcome{Section: Section{Kind: kind, Text: text}}
}

// Document holds every outcome of one run in reading order.
type Document struct {
	BannerURL string
	Short     Outcome
	Chart     Outcome
	Details   Outcome
	Fun       Outcome
}

const (
	shortHeading   = "> #### Short answer"
	chartHeading   = "> #### Data visualization"
	detailsHeading = "> #### Details"
	funHeading     = "> #### *😂Fun section 😂*"

	chartAlt  = `"Lack of appropriate data for visualization purpose"`
	jokeIntro = "*😂Do you want to see a joke related to the topic? WARNING!: it won't be funny 😂*"
	memeIntro = "*😂 You got a meme to smile for the rest of the day 😂*"
)

// Assemble renders the document as markdown. Skipped outcomes leave no trace;
// the short, details and fun headings are always present.
func Assemble(doc Document) string {
	var blocks []string
	add := func(parts ...string) {
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				blocks = append(blocks, strings.TrimSpace(p))
			}
		}
	}

	if doc.BannerURL != "" {
		add("![Banner](" + doc.BannerURL + ")")
	}

	add(shortHeading)
	if doc.Short.Skip == nil {
		add(doc.Short.Section.Text)
	}

	if doc.Chart.Skip == nil && doc.Chart.Section.URL != "" {
		add(chartHeading, doc.Chart.Section.Markdown, "!["+chartAlt+"]("+doc.Chart.Section.URL+")")
	}

	add(detailsHeading)
	if doc.Details.Skip == nil {
		add(doc.Details.Section.Text)
	}

	add(funHeading)
	if doc.Fun.Skip == nil {
		switch doc.Fun.Section.Kind {
		case SectionMeme:
			add(memeIntro, "![Meme]("+doc.Fun.Section.URL+")")
		case SectionJoke:
			add(jokeIntro, doc.Fun.Section.Text)
		}
	}

	return strings.Join(blocks, "\n\n") + "\n"
}
