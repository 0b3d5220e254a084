package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// ErrNotReadOnly is returned by Query for statements that could write.
var ErrNotReadOnly = errors.New("structured queries are read-only")

var (
	readVerbs  = map[string]bool{"select": true, "with": true, "values": true, "explain": true}
	writeVerbs = map[string]bool{"insert": true, "update": true, "delete": true, "create": true, "drop": true,
		"alter": true, "attach": true, "detach": true, "pragma": true, "vacuum": true, "reindex": true}
)

// Query runs a read-only SQL statement with named parameters (:name, @name
// or $name). Statements that could write are refused with ErrNotReadOnly.
// The rest run on a query_only connection inside a transaction that is
// always rolled back.
func (dm *DBManager) Query(ctx context.Context, query string, params apptype.ParamMap) (*apptype.QueryResult, error) {
	done := metrics.TimeOp("db_structured_query")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	text, args, err := BindNamed(query, params)
	if err != nil {
		return nil, err
	}

	conn, err := dm.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		// Remote databases may not accept the pragma; the verb check and the
		// rollback still apply.
		dm.logger.Debug("query_only pragma unavailable", "err", err)
	} else {
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
				dm.logger.Warn("failed to reset query_only", "err", err)
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	result := &apptype.QueryResult{Columns: cols, Rows: []apptype.Row{}}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(apptype.Row, len(cols))
		for i, c := range cols {
			row[c] = apptype.ValueOf(cells[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return result, nil
}

// checkReadOnly refuses statements that do not start with a read verb or
// that name a write verb anywhere outside literals and comments.
func checkReadOnly(query string) error {
	words := sqlWords(query)
	if len(words) == 0 {
		return fmt.Errorf("query has no statement")
	}
	if !readVerbs[words[0]] {
		return fmt.Errorf("%w: %s is not allowed", ErrNotReadOnly, strings.ToUpper(words[0]))
	}
	for _, w := range words[1:] {
		if writeVerbs[w] {
			return fmt.Errorf("%w: %s is not allowed", ErrNotReadOnly, strings.ToUpper(w))
		}
	}
	return nil
}

// sqlWords returns the lower-cased bare words of query, skipping quoted
// names, literals and comments.
func sqlWords(query string) []string {
	var words []string
	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = closing(query, i+1, c)
		case c == '[':
			end := strings.IndexByte(query[i:], ']')
			if end < 0 {
				return words
			}
			i += end + 1
		case c == '-' && i+1 < n && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return words
			}
			i += end
		case c == '/' && i+1 < n && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return words
			}
			i += 2 + end + 2
		case (c == ':' || c == '@' || c == '$') && i+1 < n && isIdentStart(query[i+1]):
			j := i + 1
			for j < n && isIdentPart(query[j]) {
				j++
			}
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentPart(query[j]) {
				j++
			}
			words = append(words, strings.ToLower(query[i:j]))
			i = j
		case c >= '0' && c <= '9':
			j := i
			for j < n && isIdentPart(query[j]) {
				j++
			}
			i = j
		default:
			i++
		}
	}
	return words
}

// BindNamed rewrites named placeholders to positional ones and returns the
// matching arguments. Placeholders inside quotes and comments are left alone.
func BindNamed(query string, params apptype.ParamMap) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.Grow(len(query))
	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closing(query, i+1, c)
			b.WriteString(query[i:end])
			i = end
		case c == '[':
			end := strings.IndexByte(query[i:], ']')
			if end < 0 {
				end = n - i - 1
			}
			b.WriteString(query[i : i+end+1])
			i += end + 1
		case c == '-' && i+1 < n && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = n - i
			}
			b.WriteString(query[i : i+end])
			i += end
		case c == '/' && i+1 < n && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				b.WriteString(query[i:])
				i = n
				continue
			}
			b.WriteString(query[i : i+2+end+2])
			i += 2 + end + 2
		case (c == ':' || c == '@' || c == '$') && i+1 < n && isIdentStart(query[i+1]):
			j := i + 1
			for j < n && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			p, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("missing value for parameter %q", name)
			}
			b.WriteByte('?')
			args = append(args, driverArg(p))
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), args, nil
}

// closing returns the index just past the quote that closes a literal
// opened with q, honouring doubled quotes.
func closing(s string, from int, q byte) int {
	for i := from; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func driverArg(p apptype.ParamValue) any {
	switch v := p.(type) {
	case apptype.VectorParam:
		return EncodeVector([]float32(v))
	case nil:
		return nil
	default:
		return v.Native()
	}
}
