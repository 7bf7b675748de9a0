package history

import (
	"fmt"
	"strings"
)

// QueryResult is the outcome of an ad-hoc query.
type QueryResult struct {
	OK       bool                     `json:"ok"`
	RowCount int                      `json:"row_count"`
	Rows     []map[string]interface{} `json:"rows,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// Query runs a read-only SQL statement against the history database.
func (s *Store) Query(sqlQuery string) QueryResult {
	if err := checkSQLSafety(sqlQuery); err != nil {
		return QueryResult{Error: fmt.Sprintf("query not allowed: %v", err)}
	}

	rows, err := s.db.Query(sqlQuery)
	if err != nil {
		return QueryResult{Error: fmt.Sprintf("query failed: %v", err)}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{Error: fmt.Sprintf("failed to get columns: %v", err)}
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return QueryResult{Error: fmt.Sprintf("failed to scan row: %v", err)}
		}

		rowMap := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// []byte would encode as base64
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		results = append(results, rowMap)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{Error: fmt.Sprintf("row iteration error: %v", err)}
	}

	return QueryResult{OK: true, RowCount: len(results), Rows: results}
}

// checkSQLSafety allows SELECT and WITH statements only.
func checkSQLSafety(sqlQuery string) error {
	upper := strings.ToUpper(strings.TrimSpace(sqlQuery))
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return nil
	}
	return fmt.Errorf("only SELECT and WITH statements are allowed")
}
