package db

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/remote"
)

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var errMissingID = errors.New("mutation record has no id")

// buildMutation turns a queued mutation into SQL. Inserts ignore rows that
// already exist so a redelivered mutation is harmless.
func buildMutation(m model.Mutation) (string, []any, error) {
	table := pq.QuoteIdentifier(m.Table)

	cols := make([]string, 0, len(m.Record))
	for c := range m.Record {
		if !columnName.MatchString(c) {
			return "", nil, fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	id, hasID := m.Record["id"]

	switch m.Op {
	case model.OpInsert:
		if len(cols) == 0 {
			return "", nil, errors.New("insert without columns")
		}
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			quoted[i] = pq.QuoteIdentifier(c)
			marks[i] = fmt.Sprintf("$%d", i+1)
			v, err := sqlValue(m.Record[c])
			if err != nil {
				return "", nil, fmt.Errorf("column %s: %w", c, err)
			}
			args[i] = v
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING;",
			table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
		return q, args, nil

	case model.OpUpdate:
		if !hasID {
			return "", nil, errMissingID
		}
		sets := make([]string, 0, len(cols))
		args := make([]any, 0, len(cols))
		for _, c := range cols {
			if c == "id" {
				continue
			}
			v, err := sqlValue(m.Record[c])
			if err != nil {
				return "", nil, fmt.Errorf("column %s: %w", c, err)
			}
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), len(args)))
		}
		if len(sets) == 0 {
			return "", nil, errors.New("update without columns")
		}
		args = append(args, id)
		q := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d;", table, strings.Join(sets, ", "), len(args))
		return q, args, nil

	case model.OpDelete:
		if !hasID {
			return "", nil, errMissingID
		}
		return fmt.Sprintf("DELETE FROM %s WHERE id = $1;", table), []any{id}, nil
	}
	return "", nil, fmt.Errorf("unsupported op %q", m.Op)
}

// nested JSON values go to json/jsonb columns
func sqlValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// classifyExecErr marks integrity constraint violations (SQLSTATE class 23)
// as rejected. The server answered, so they say nothing about reachability.
func classifyExecErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s: %v", remote.ErrRejected, pqErr.Code.Name(), err)
	}
	return err
}
