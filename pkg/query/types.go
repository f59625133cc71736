package query

import "github.com/pay-theory/aerokit/pkg/types"

// Page is one page of scan results
type Page struct {
	Records    []*types.Record `json:"records"`
	NextCursor string          `json:"nextCursor,omitempty"`
	Count      int             `json:"count"`
	HasMore    bool            `json:"hasMore"`
}
