package internal

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxColumnDistance is the largest edit distance accepted for a column fix
const MaxColumnDistance = 3

// SuggestionKind categorises a self-heal suggestion
type SuggestionKind string

const (
	SuggestColumn     SuggestionKind = "column"
	SuggestTable      SuggestionKind = "table"
	SuggestSyntax     SuggestionKind = "syntax"
	SuggestPermission SuggestionKind = "permission"
)

// Suggestion is a proposed fix for a failed query
type Suggestion struct {
	Kind         SuggestionKind `json:"kind" yaml:"kind"`
	Message      string         `json:"message" yaml:"message"`
	Identifier   string         `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Replacement  string         `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Distance     int            `json:"distance,omitempty" yaml:"distance,omitempty"`
	SuggestedSQL string         `json:"suggestedSql,omitempty" yaml:"suggestedSql,omitempty"`
}

var (
	columnErrorPattern = regexp.MustCompile(`(?i)ORA-00904|invalid identifier|unknown column|no such column|invalid column|column\b.*\b(not found|does not exist|doesn't exist|cannot be resolved|could not be resolved)|cannot resolve column|unrecognized column`)
	tableErrorPattern  = regexp.MustCompile(`(?i)ORA-00942|table or view does not exist|no such table|unknown table|table\b.*\b(not found|does not exist|doesn't exist)|relation\b.*\bdoes not exist`)
	syntaxErrorPattern = regexp.MustCompile(`(?i)ORA-009(00|06|07|17|21|33|36)|syntax error|error in your SQL syntax|missing expression|missing keyword|unexpected token|mismatched input|parse error|SQL command not properly ended`)
	permErrorPattern   = regexp.MustCompile(`(?i)ORA-01031|insufficient privileges|permission denied|access denied|not authorized|unauthorized|forbidden`)

	quotedIdentPattern = regexp.MustCompile("(?:[\"'`][^\"'`]+[\"'`]\\.)*[\"'`]([^\"'`]+)[\"'`]")
	bareIdentPattern   = regexp.MustCompile(`(?i)column(?:\s+name)?\s*[:=]?\s*([A-Za-z_][\w$#.]*)`)
)

var bareIdentStopwords = map[string]bool{
	"not": true, "does": true, "is": true, "was": true, "cannot": true, "could": true, "in": true, "name": true,
}

// SelfHealAdvisor proposes fixes for failed queries
type SelfHealAdvisor struct{}

// NewSelfHealAdvisor creates a new self-heal advisor
func NewSelfHealAdvisor() *SelfHealAdvisor {
	return &SelfHealAdvisor{}
}

// Analyze inspects an execution error and returns a suggestion, or nil when
// nothing useful can be proposed.
//
// Unknown-column errors are matched against knownColumns by case-insensitive
// edit distance. The closest column within MaxColumnDistance wins; on a tie the
// first column in knownColumns wins. When sql is given, every whole-word,
// case-insensitive occurrence of the bad identifier is rewritten.
func (a *SelfHealAdvisor) Analyze(errorMessage, sql string, knownColumns []string) *Suggestion {
	if strings.TrimSpace(errorMessage) == "" {
		return nil
	}

	if columnErrorPattern.MatchString(errorMessage) {
		if ident := extractIdentifier(errorMessage); ident != "" {
			if s := suggestColumn(ident, sql, knownColumns); s != nil {
				return s
			}
		}
	}

	switch {
	case tableErrorPattern.MatchString(errorMessage):
		return &Suggestion{
			Kind:    SuggestTable,
			Message: "The table could not be found. Check the schema for the correct table name and owner.",
		}
	case syntaxErrorPattern.MatchString(errorMessage):
		return &Suggestion{
			Kind:    SuggestSyntax,
			Message: "The SQL has a syntax error. Check keywords, commas and parentheses, or rephrase the question.",
		}
	case permErrorPattern.MatchString(errorMessage):
		return &Suggestion{
			Kind:    SuggestPermission,
			Message: "You do not have permission to run this query. Ask an administrator for access to the objects involved.",
		}
	}
	return nil
}

// AnalyzeError is a convenience wrapper around SelfHealAdvisor.Analyze
func AnalyzeError(errorMessage, sql string, knownColumns []string) *Suggestion {
	return NewSelfHealAdvisor().Analyze(errorMessage, sql, knownColumns)
}

func suggestColumn(ident, sql string, knownColumns []string) *Suggestion {
	target := strings.ToUpper(ident)
	best, bestDist := "", -1
	for _, col := range knownColumns {
		if col == "" {
			continue
		}
		d := Levenshtein(target, strings.ToUpper(col))
		if bestDist < 0 || d < bestDist {
			best, bestDist = col, d
		}
	}
	// an exact match means the column exists; the error lies elsewhere
	if bestDist <= 0 || bestDist > MaxColumnDistance {
		return nil
	}

	s := &Suggestion{
		Kind:        SuggestColumn,
		Message:     "Column " + ident + " was not found. Did you mean " + best + "?",
		Identifier:  ident,
		Replacement: best,
		Distance:    bestDist,
	}
	if sql != "" {
		s.SuggestedSQL = ReplaceIdentifier(sql, ident, best)
	}
	return s
}

// ReplaceIdentifier rewrites every whole-word, case-insensitive occurrence of
// old in sql. Word characters include $ and #, as in Oracle names like EMP#.
func ReplaceIdentifier(sql, old, replacement string) string {
	if old == "" {
		return sql
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(old))
	if err != nil {
		return sql
	}

	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(sql, -1) {
		before, _ := utf8.DecodeLastRuneInString(sql[:loc[0]])
		after, _ := utf8.DecodeRuneInString(sql[loc[1]:])
		if isIdentRune(before) || isIdentRune(after) {
			continue
		}
		b.WriteString(sql[last:loc[0]])
		b.WriteString(replacement)
		last = loc[1]
	}
	if last == 0 {
		return sql
	}
	b.WriteString(sql[last:])
	return b.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || r == '#' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// extractIdentifier returns the first quoted token in the message, else the
// bare token following "column". Qualifiers such as T.COL are dropped.
func extractIdentifier(msg string) string {
	if m := quotedIdentPattern.FindStringSubmatch(msg); m != nil {
		return unqualify(m[1])
	}
	for _, m := range bareIdentPattern.FindAllStringSubmatch(msg, -1) {
		if bareIdentStopwords[strings.ToLower(m[1])] {
			continue
		}
		return unqualify(m[1])
	}
	return ""
}

func unqualify(ident string) string {
	ident = strings.TrimSpace(ident)
	if i := strings.LastIndex(ident, "."); i >= 0 {
		ident = ident[i+1:]
	}
	return ident
}

// Levenshtein returns the edit distance between a and b with unit costs for
// insertion, deletion and substitution.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// SchemaColumns collects column names from streamed schema data. Entries may
// be plain names, column objects, or table objects with a nested column list.
func SchemaColumns(data []interface{}) []string {
	var out []string
	for _, item := range data {
		if s, ok := item.(string); ok {
			out = append(out, unqualify(s))
			continue
		}
		m, ok := toMap(item)
		if !ok {
			continue
		}
		r := Response(m)
		if nested := r.Slice("columns", "fields"); nested != nil {
			out = append(out, SchemaColumns(nested)...)
			continue
		}
		if name := r.String("column_name", "columnName", "column", "name"); name != "" {
			out = append(out, unqualify(name))
		}
	}
	return out
}
