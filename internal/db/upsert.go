package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpsertSQL builds the statement for cfg with $n placeholders in column order.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	action := "DO NOTHING"
	if len(updateCols) > 0 {
		setClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		action = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		SanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

// SanitizeTable quotes a table name, handling "schema.table".
func SanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain (optionally
// schema-qualified) SQL identifier safe to format into DDL.
func ValidIdentifier(name string) bool {
	return plainIdent.MatchString(name)
}
