package chart

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
)

// API documents the plt package chart code can use.
const API = `plt.Title(s string)
plt.Subtitle(s string)
plt.XLabel(s string)
plt.YLabel(s string)
plt.Footnote(s string)
plt.Legend()
plt.Size(width, height int)
plt.Bar(series string, labels []string, values []float64)
plt.Barh(series string, labels []string, values []float64)
plt.Line(series string, labels []string, values []float64)
plt.Scatter(series string, x, y []float64)
plt.Pie(labels []string, values []float64)`

// exports binds the plt package to one figure.
func exports(fig *Figure) interp.Exports {
	return interp.Exports{
		"plt/plt": {
			"Title":    reflect.ValueOf(fig.SetTitle),
			"Subtitle": reflect.ValueOf(fig.SetSubtitle),
			"XLabel":   reflect.ValueOf(fig.SetXLabel),
			"YLabel":   reflect.ValueOf(fig.SetYLabel),
			"Footnote": reflect.ValueOf(fig.SetFootnote),
			"Legend":   reflect.ValueOf(fig.ShowLegend),
			"Size":     reflect.ValueOf(fig.SetSize),
			"Bar":      reflect.ValueOf(fig.Bar),
			"Barh":     reflect.ValueOf(fig.Barh),
			"Line":     reflect.ValueOf(fig.Line),
			"Scatter":  reflect.ValueOf(fig.Scatter),
			"Pie":      reflect.ValueOf(fig.Pie),
		},
	}
}

func wrap(code string) string {
	return "package main\n\nimport \"plt\"\n\nfunc Draw() {\n" + code + "\n}\n"
}

// execute interprets chart code against fig. No package other than plt is
// importable: the interpreter is created without the standard library.
func execute(ctx context.Context, code string, fig *Figure) error {
	i := interp.New(interp.Options{})
	if err := i.Use(exports(fig)); err != nil {
		return fmt.Errorf("load plt symbols: %w", err)
	}

	src := wrap(stripHeader(code))
	if err := checkSource(src); err != nil {
		return err
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return fmt.Errorf("evaluate chart code: %w", err)
	}
	// Cancelling ctx stops the interpreted code at its next call or loop
	// iteration.
	if _, err := i.EvalWithContext(ctx, "main.Draw()"); err != nil {
		return fmt.Errorf("run chart code: %w", err)
	}
	return nil
}

// checkSource rejects constructs that leave the interpreter's goroutine.
// A panic in a goroutine started by chart code cannot be recovered and would
// take the process down; channels and select only serve such goroutines.
func checkSource(src string) error {
	file, err := parser.ParseFile(token.NewFileSet(), "chart.go", src, parser.SkipObjectResolution)
	if err != nil {
		return fmt.Errorf("parse chart code: %w", err)
	}
	var found string
	ast.Inspect(file, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.GoStmt:
			found = "go statement"
		case *ast.DeferStmt:
			found = "defer statement"
		case *ast.SelectStmt:
			found = "select statement"
		case *ast.ChanType, *ast.SendStmt:
			found = "channel"
		}
		return found == ""
	})
	if found != "" {
		return fmt.Errorf("%s not allowed in chart code", found)
	}
	return nil
}

// stripHeader drops package and import lines, which the wrapper supplies.
func stripHeader(code string) string {
	lines := strings.Split(code, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") || strings.HasPrefix(trimmed, "import ") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
