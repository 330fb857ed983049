package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the text form of DateTime64(3) values
const DateTimeLayout = "2006-01-02 15:04:05.000"

//nolint:gochecknoglobals // read only replacer
var quoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Quote renders s as a single quoted string literal
func Quote(s string) string {
	return "'" + quoter.Replace(s) + "'"
}

// QuoteList renders values as a comma separated list of string literals
func QuoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}

	return strings.Join(quoted, ", ")
}

// Identifier renders a backtick quoted identifier
func Identifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// FormatTime renders t as a UTC DateTime64(3) literal
func FormatTime(t time.Time) string {
	return Quote(t.UTC().Format(DateTimeLayout))
}

// ParseTime parses the text forms ClickHouse uses for DateTime and DateTime64
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{DateTimeLayout, time.DateTime, "2006-01-02 15:04:05.999999999", time.DateOnly, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}

// TableExists checks if a table exists in the given database
func TableExists(ctx context.Context, client ClientInterface, database, table string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT count() AS count
		FROM system.tables
		WHERE database = %s AND name = %s
	`, Quote(database), Quote(table))

	var result struct {
		Count uint64 `json:"count,string"`
	}

	if err := client.QueryOne(ctx, query, &result); err != nil {
		return false, err
	}

	return result.Count > 0, nil
}
