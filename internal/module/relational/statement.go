package relational

import (
	"strings"
)

// Leading keywords whose statements produce rows.
var rowKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"PRAGMA":  true,
	"EXPLAIN": true,
}

// Transaction control is owned by the begin/commit/rollback actions.
var txKeywords = map[string]bool{
	"BEGIN":     true,
	"COMMIT":    true,
	"END":       true,
	"ROLLBACK":  true,
	"SAVEPOINT": true,
	"RELEASE":   true,
}

// statement summarizes the parts of a SQL string the adapter routes on.
type statement struct {
	// leading holds the first keyword of each statement, upper-cased.
	leading []string
	// returning is set when a RETURNING keyword appears outside literals.
	returning bool
}

// producesRows reports whether the first statement yields a result set.
func (st statement) producesRows() bool {
	if len(st.leading) == 0 {
		return false
	}
	return rowKeywords[st.leading[0]] || st.returning
}

// txControl returns the first transaction-control keyword, if any.
func (st statement) txControl() (string, bool) {
	for _, kw := range st.leading {
		if txKeywords[kw] {
			return kw, true
		}
	}
	return "", false
}

// scan walks sql once, skipping string literals, quoted identifiers and
// comments, and records the leading keyword of every ';'-separated
// statement.
func scan(sql string) statement {
	var st statement
	atStart := true
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
			atStart = false
		case c == '[':
			if j := strings.IndexByte(sql[i:], ']'); j >= 0 {
				i += j + 1
			} else {
				i = len(sql)
			}
			atStart = false
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			if j := strings.IndexByte(sql[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = len(sql)
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			if j := strings.Index(sql[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = len(sql)
			}
		case c == ';':
			atStart = true
			i++
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			word := strings.ToUpper(sql[i:j])
			if atStart {
				st.leading = append(st.leading, word)
				atStart = false
			}
			if word == "RETURNING" {
				st.returning = true
			}
			i = j
		default:
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '(' {
				atStart = false
			}
			i++
		}
	}
	return st
}

// skipQuoted returns the index just past the literal opened at sql[i].
// A doubled quote character is an escaped quote.
func skipQuoted(sql string, i int, q byte) int {
	i++
	for i < len(sql) {
		if sql[i] == q {
			if i+1 < len(sql) && sql[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
