package synth

import (
	"bytes"
	"text/template"

	"github.com/fabfab/survey-agent/chart"
)

type promptInput struct {
	Query  string
	Answer string
	API    string
}

var (
	shortTemplate = template.Must(template.New("short").Parse(`Given the following query: {{ .Query }}
and the following answer: {{ .Answer }}
extract from the answer short answer. Contain only answer in short answer, do not add additional text. Please always use relevant emojis to make the answer more visually appealing, do not inform that you have put emojis.
`))

	complexTemplate = template.Must(template.New("complex").Parse(`Given the following query: {{ .Query }}
and the following answer: {{ .Answer }}
extract a complex well-structured explanation of the answer to the query in the clearly readable markdown format with some clear sections including sources if such were given or bulletpoints but don't add any headlines. You can just bold names of sections and add relevant emoji. But do not include any technical details like SQL code, database codes or tables names or any suggestions for visualization. You can add tables if they serve the purpose of building a good story. Try to be concise though if possible. Please always use relevant emojis to make the answer more visually appealing. Do not inform that you have put emojis. Prepare all the bulletpoints in a clear markdown format. Place sources at the end of the answer. Please remember to include both names and the links in the sources section.
`))

	chartTemplate = template.Must(template.New("chart").Parse(`Given the following query: {{ .Query }}
and the following answer: {{ .Answer }}
do the following.
If there is no relevant data in PIRLS database for visualization purpose to answer the query return only empty string: ''.
If there is relevant data to answer the query, extract the data for visualization from the response, and then write Go statements that draw a well-labeled and clear chart with the plt package:
{{ .API }}
- Use only the plt package. No other package can be imported. Make sure all the data points are written as literals within this code snippet.
- Write statements only: no package clause, no imports, no func declarations.
- Don't extract just one single number for visualization.
- Feel free to limit the data to top 10 or bottom 10 but make it clear in the title or labels that you selected best or worst groups e.g. countries.
- Add a footnote with the source.
- Add a subtitle if it's useful.
- Add a legend if the chart has more than one series.
- Make sure there is a good title, x and y axis label.
- Sort top values in descending order and lowest values in ascending.
- If there are multiple tables just choose the most relevant one and visualize it. Don't overcomplicate things.
- Do not call plt.Show(), the chart is displayed for you.
Provide only the code as the response, do not add additional text. Each statement starts on a new line.
`))

	jokeTemplate = template.Must(template.New("joke").Parse(`Given the following query: {{ .Query }}
and the following answer: {{ .Answer }}
provide a dad joke relevant to this query and answer. Be creative but stick to the topic. Be funny. Use emojis and format it in markdown with some styling but don't use big headlines.
Provide only the content of the joke with styling without any additional text, without repeating the answer, without anything which is not your dad joke.
`))
)

func render(tmpl *template.Template, query, answer string) (string, error) {
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, promptInput{Query: query, Answer: answer, API: chart.API})
	return buf.String(), err
}
