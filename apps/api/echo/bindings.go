package echoapi

import (
	"net/url"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

var (
	orderingParam = "ordering"
	orderParam    = "order"
	upsertParam   = "on"

	// query params that are not record filters
	reservedParams = map[string]bool{orderingParam: true, orderParam: true, upsertParam: true, "token": true}
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	for _, param := range []string{orderingParam, orderParam} {
		if val, ok := data[param]; ok && len(val) > 0 && val[0] != "" {
			ord.Orderings = append(ord.Orderings, core.ParseOrderings(val[0])...)
		}
	}
}

// bindFilters turns the remaining query params into equality filters, sorted by field for stable queries.
func bindFilters(params url.Values) []collection.Filter {
	var filters []collection.Filter
	for field, vals := range params {
		if reservedParams[field] || len(vals) == 0 {
			continue
		}
		filters = append(filters, collection.Filter{Field: field, Value: vals[0]})
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].Field < filters[j].Field })
	return filters
}
