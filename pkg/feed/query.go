package feed

import (
	"encoding/json"
	"fmt"
)

// Query is a GraphQL request body.
type Query struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables,omitempty"`
	Query         string         `json:"query"`
}

// Body renders the query as the JSON document posted upstream.
func (q Query) Body() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode query %s: %w", q.OperationName, err)
	}
	return string(b), nil
}

const excludedCategory = "Parkering"

// CatalogQuery selects every rentable unit except parking spaces.
func CatalogQuery() Query {
	return Query{
		OperationName: "GetHousingItems",
		Variables: map[string]any{
			"input": map[string]any{
				"category": map[string]any{
					"displayName": map[string]any{
						"no": map[string]any{"neq": excludedCategory},
					},
				},
			},
			"sort":   []map[string]string{{"_id": "ASC"}},
			"limit":  0,
			"offset": 0,
		},
		Query: "query GetHousingItems($input: Sanity_EnhetFilter, $limit: Int, $offset: Int) { " +
			"sanity_allEnhet(where: $input, limit: $limit, offset: $offset) { " +
			"rentalObjectId name building { address } area price " +
			"category { displayName { no en } } " +
			"studentby { name studiested { name } } " +
			"kollektiv { name } } }",
	}
}

// AvailabilityQuery selects the ids and move-in dates of currently available units.
func AvailabilityQuery() Query {
	return Query{
		OperationName: "GetHousingIds",
		Variables: map[string]any{
			"input": map[string]any{
				"showUnavailable": false,
				"offset":          0,
			},
		},
		Query: "query GetHousingIds($input: GetHousingsInput!) { " +
			"housings(filter: $input) { housingRentalObjects { rentalObjectId availableFrom } } }",
	}
}
