package search

import "github.com/hyperjump/nakama/internal/models"

// ProcessQuery trims the query terms and rejects a query with neither term.
func ProcessQuery(query *models.Query) error {
	if query == nil {
		return models.ErrEmptyQuery
	}
	return query.Validate()
}
