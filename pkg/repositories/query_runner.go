package repositories

import (
	"context"
	"fmt"

	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
)

// pgQueryRunner executes prepared engine statements on the workspace-scoped
// connection and collects rows as column-name maps. The scoped connection
// carries app.current_workspace_id, so RLS applies to every statement run
// here no matter what the text says.
type pgQueryRunner struct{}

func NewQueryRunner() *pgQueryRunner {
	return &pgQueryRunner{}
}

func (r *pgQueryRunner) Run(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
