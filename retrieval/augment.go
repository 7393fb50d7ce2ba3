package retrieval

import (
	"fmt"
	"strings"
)

// Replacement is a literal substitution.
type Replacement struct {
	From string
	To   string
}

// Normalization cleans passages before they reach the model. Content fixes
// apply to passage text; source titles turn known source URLs into titled
// markdown links.
type Normalization struct {
	Content      []Replacement
	SourceTitles map[string]string
}

// DefaultNormalization fixes the transcription error on the survey acronym
// and titles the two recorded talks in the knowledge base.
func DefaultNormalization() Normalization {
	return Normalization{
		Content: []Replacement{{From: "PEARLS", To: "PIRLS"}},
		SourceTitles: map[string]string{
			"https://www.youtube.com/watch?v=2D1RnQhyAZU": "PIRLS 2021– Findings, IEA Education",
			"https://www.youtube.com/watch?v=wACy8bzeOAU": "What can we learn from PIRLS 2021?, Department of Education, University of Oxford",
		},
	}
}

// WithTitles returns a copy with extra source titles. Existing titles win.
func (n Normalization) WithTitles(titles map[string]string) Normalization {
	merged := make(map[string]string, len(n.SourceTitles)+len(titles))
	for url, title := range titles {
		if title != "" {
			merged[url] = title
		}
	}
	for url, title := range n.SourceTitles {
		merged[url] = title
	}
	return Normalization{Content: n.Content, SourceTitles: merged}
}

func (n Normalization) source(src string) string {
	for url, title := range n.SourceTitles {
		if strings.Contains(src, url) {
			src = strings.ReplaceAll(src, url, `["`+title+`"](`+url+`)`)
		}
	}
	return src
}

func (n Normalization) content(text string) string {
	for _, r := range n.Content {
		text = strings.ReplaceAll(text, r.From, r.To)
	}
	return text
}

// Augment builds the prompt handed to the crew. It asks for the passages to be
// used only where they help and for each useful source to be cited once.
func Augment(prompt string, passages []Passage, norm Normalization) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = "source: " + norm.source(p.Source) + ", content: " + p.Content
	}
	knowledge := norm.content(strings.Join(parts, ".\n"))

	return fmt.Sprintf(`
Answer this query %s.
Use the knowledge from this source in the final answer if it only helps:
%s
And add in the final answer all the sources (unique i.e. only once) of the relevant pieces of this knowledge if it was useful.
`, prompt, knowledge)
}
