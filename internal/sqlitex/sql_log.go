package sqlitex

import (
	"fmt"
	"strings"
	"time"
)

// FormatSQLForLog inlines positional arguments into query. Debug logging only.
func FormatSQLForLog(query string, args ...any) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(args)*8)
	next := 0
	for _, ch := range query {
		if ch == '?' && next < len(args) {
			b.WriteString(formatArg(args[next]))
			next++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func formatArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case time.Time:
		return "'" + v.Format(time.RFC3339) + "'"
	case *time.Time:
		if v == nil {
			return "NULL"
		}
		return "'" + v.Format(time.RFC3339) + "'"
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", arg)
	}
}
