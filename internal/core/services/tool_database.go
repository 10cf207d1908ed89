package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

const defaultQueryLimit = 100

var (
	forbiddenSQLKeywords = []string{
		"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT",
		"UPDATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE",
	}
	forbiddenSQLRes = compileKeywordRes(forbiddenSQLKeywords)
	limitRe         = regexp.MustCompile(`(?i)\bLIMIT\b`)
)

func compileKeywordRes(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + w + `\b`)
	}
	return out
}

// ValidateReadOnlySQL rejects anything but a single SELECT statement.
// The returned error wraps domain.ErrUnsafeQuery.
func ValidateReadOnlySQL(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("%w: Only SELECT queries are allowed", domain.ErrUnsafeQuery)
	}
	for i, re := range forbiddenSQLRes {
		if re.MatchString(upper) {
			return fmt.Errorf("%w: Dangerous keyword '%s' is not allowed", domain.ErrUnsafeQuery, forbiddenSQLKeywords[i])
		}
	}
	if strings.Count(query, ";") > 1 {
		return fmt.Errorf("%w: Multiple statements not allowed", domain.ErrUnsafeQuery)
	}
	if strings.Contains(query, "--") || strings.Contains(query, "/*") {
		return fmt.Errorf("%w: SQL comments are not allowed", domain.ErrUnsafeQuery)
	}
	return nil
}

// WithRowLimit appends LIMIT n unless the query already has one.
func WithRowLimit(query string, n int) string {
	if n <= 0 {
		n = defaultQueryLimit
	}
	if limitRe.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), n)
}

// RunReadOnlyQuery validates, limits and executes query against db.
func RunReadOnlyQuery(ctx context.Context, db ports.SQLDatabase, query string, limit int) (*domain.QueryResult, error) {
	if db == nil {
		return nil, fmt.Errorf("database: %w", domain.ErrNotConfigured)
	}
	if err := ValidateReadOnlySQL(query); err != nil {
		return nil, err
	}
	return db.Query(ctx, WithRowLimit(query, limit))
}

// NewDatabaseQueryTool exposes read-only SQL over db as database_query.
func NewDatabaseQueryTool(db ports.SQLDatabase) *domain.Tool {
	return &domain.Tool{
		Name:        "database_query",
		Description: fmt.Sprintf("Execute a read-only SELECT query against the %s database. Only SELECT queries are allowed.", db.Dialect()),
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "SQL SELECT query to execute",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of rows to return (default: 100)",
					"default":     defaultQueryLimit,
				},
			},
			Required: []string{"query"},
		},
		ExecutionType: domain.ExecNative,
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			res, err := RunReadOnlyQuery(ctx, db, query, intParam(params, "limit", defaultQueryLimit))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success":   true,
				"results":   res.Rows,
				"row_count": len(res.Rows),
				"columns":   res.Columns,
			}, nil
		},
	}
}

// NewTableSchemaTool exposes column metadata as get_table_schema.
func NewTableSchemaTool(db ports.SQLDatabase) *domain.Tool {
	return &domain.Tool{
		Name:        "get_table_schema",
		Description: "Get the column names, types and nullability of a database table.",
		Parameters:  domain.ObjectParams(map[string]interface{}{"table_name": map[string]interface{}{"type": "string", "description": "Name of the table"}}, "table_name"),
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			name, _ := params["table_name"].(string)
			schema, err := db.DescribeTable(ctx, name)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success": true,
				"table":   schema.Name,
				"columns": schema.Columns,
			}, nil
		},
	}
}

// NewListTablesTool exposes the table catalogue as list_tables.
func NewListTablesTool(db ports.SQLDatabase) *domain.Tool {
	return &domain.Tool{
		Name:        "list_tables",
		Description: "List the tables available in the database.",
		Parameters:  domain.ObjectParams(map[string]interface{}{}),
		Execute: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			tables, err := db.ListTables(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tables": tables, "count": len(tables)}, nil
		},
	}
}
