package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/survey-agent/config"
)

const (
	maxResultChars  = 3000
	truncatedMarker = "...\n(results too long. Output truncated.)"
)

// AnswerTables are the questionnaire answer tables of the survey schema.
var AnswerTables = []string{
	"StudentQuestionnaireAnswers",
	"CurriculumQuestionnaireAnswers",
	"HomeQuestionnaireAnswers",
	"TeacherQuestionnaireAnswers",
	"SchoolQuestionnaireAnswers",
}

var readOnlyPrefixes = []string{"select", "with", "explain", "show", "values", "table"}

// SurveyDB runs read queries against the survey database. A connection is
// taken from the pool for each call and handed back as soon as the rows are
// rendered. Query failures are returned as text so the calling role can read
// the error and adapt its query.
type SurveyDB struct {
	db     *sql.DB
	driver string
}

func NewSurveyDB(db *sql.DB, driver string) *SurveyDB {
	return &SurveyDB{db: db, driver: driver}
}

// OpenSurveyDB opens the data source named by the configuration. The pgx
// and sqlite drivers are registered in drivers.go.
func OpenSurveyDB(cfg config.DataSourceConfig) (*SurveyDB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s data source: %w", cfg.Driver, err)
	}
	return NewSurveyDB(db, cfg.Driver), nil
}

func (s *SurveyDB) Close() error {
	return s.db.Close()
}

type QueryArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"The SQL query to execute."`
}

type AnswerArgs struct {
	Table string `json:"questionnaire_answers_table" jsonschema:"required,enum=StudentQuestionnaireAnswers,enum=CurriculumQuestionnaireAnswers,enum=HomeQuestionnaireAnswers,enum=TeacherQuestionnaireAnswers,enum=SchoolQuestionnaireAnswers" jsonschema_description:"The table related to the general table containing answers."`
	Codes string `json:"question_code" jsonschema:"required" jsonschema_description:"The code of the question, or several codes separated by commas (e.g. ASBG01, AFCG32)."`
}

// Query executes a read query and renders rows as comma-joined columns, one
// row per line, cut at maxResultChars.
func (s *SurveyDB) Query(ctx context.Context, query string) string {
	if !isReadOnly(query) {
		return fmt.Sprintf("Wrong query, encountered exception %s.", "only read queries are allowed")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	defer conn.Close()

	// The prefix check lets data-modifying CTEs through; the read-only
	// transaction makes the database refuse them, and nothing is committed.
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	defer rows.Close()

	lines, err := renderRows(rows)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}

	return fmt.Sprintf("Query: %s\nResult: %s", query, truncate(strings.Join(lines, "\n")))
}

// Answers returns the distinct code/answer pairs for the given question codes.
func (s *SurveyDB) Answers(ctx context.Context, table, codes string) string {
	if !isAnswerTable(table) {
		return fmt.Sprintf("Wrong query, encountered exception unknown answers table %q.", table)
	}

	var params []any
	var holders []string
	for _, code := range strings.Split(codes, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		params = append(params, code)
		holders = append(holders, s.placeholder(len(params)))
	}
	if len(params) == 0 {
		return "Wrong query, encountered exception no question code given."
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT ATab.Code, ATab.Answer FROM %s AS ATab WHERE ATab.Code IN (%s)",
		table, strings.Join(holders, ", "),
	)

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	defer rows.Close()

	lines, err := renderRows(rows)
	if err != nil {
		return fmt.Sprintf("Wrong query, encountered exception %v.", err)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Tools exposes the two database capabilities.
func (s *SurveyDB) Tools() ([]Tool, error) {
	query, err := NewFunction("query_database",
		"Query the PIRLS database and return the results as a string, one row per line.",
		func(ctx context.Context, args QueryArgs) (string, error) {
			return s.Query(ctx, args.Query), nil
		})
	if err != nil {
		return nil, err
	}

	answers, err := NewFunction("get_answers_to_question",
		"When you know the question code but not the possible answers in the survey, return every possible answer to the given question code(s).",
		func(ctx context.Context, args AnswerArgs) (string, error) {
			return s.Answers(ctx, args.Table, args.Codes), nil
		})
	if err != nil {
		return nil, err
	}

	return []Tool{query, answers}, nil
}

func (s *SurveyDB) placeholder(n int) string {
	if s.driver == config.DriverPostgres || s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func renderRows(rows *sql.Rows) ([]string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var lines []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		fields := make([]string, len(values))
		for i, v := range values {
			fields[i] = formatValue(v)
		}
		lines = append(lines, strings.Join(fields, ", "))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxResultChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxResultChars]) + truncatedMarker
}

func isReadOnly(query string) bool {
	q := strings.ToLower(strings.TrimLeft(query, " \t\r\n("))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func isAnswerTable(table string) bool {
	for _, t := range AnswerTables {
		if t == table {
			return true
		}
	}
	return false
}
