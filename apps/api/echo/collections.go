package echoapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/storage/database"
)

type collectionApi struct {
	rows   collection.RowStore
	access recordAccess
}

func newCollectionApi(rows collection.RowStore) *collectionApi {
	return &collectionApi{rows: rows, access: recordAccess{rows: rows}}
}

func registerCollectionAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *collectionApi) {
	cg := g.Group("/collections/:name", jwt, ctxSchemaMiddleware())
	cg.GET("", api.query)
	cg.POST("", api.insert)
	cg.POST("/upsert", api.upsert)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.delete)
}

// ctxSchemaMiddleware resolves the :name param into a public collection schema.
func ctxSchemaMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			schema, ok := database.LookupSchema(ctx.Param("name"))
			if !ok || schema.Hidden {
				return errHttpNotFound
			}
			// communities are managed by the operator
			if schema.Name == database.Communities && ctx.Request().Method != http.MethodGet {
				claims, err := getContextClaims(ctx)
				if err != nil {
					return errors.Wrap(err, "getting context claims")
				}
				if !claims.IsGod() {
					return errHttpForbidden
				}
			}
			ctx.Set("schema", schema)
			return next(ctx)
		}
	}
}

func getSchema(ctx echo.Context) (database.Schema, error) {
	schema, ok := ctx.Get("schema").(database.Schema)
	if !ok {
		return database.Schema{}, errors.New("schema not found in echo.Context")
	}
	return schema, nil
}

// Handlers

func (api *collectionApi) query(ctx echo.Context) error {
	schema, claims, err := schemaAndClaims(ctx)
	if err != nil {
		return err
	}

	q := collection.Query{Collection: schema.Name}
	for _, f := range bindFilters(ctx.QueryParams()) {
		if schema.Scoped && f.Field == collection.FieldScope && !claims.IsGod() {
			continue
		}
		q.Filters = append(q.Filters, f)
	}
	if schema.Scoped && !claims.IsGod() {
		q = q.Where(collection.FieldScope, claims.CommunityID)
	}
	if schema.Parent != nil && !claims.IsGod() {
		allowed, err := api.queryAllowed(ctx, schema, claims, q)
		if err != nil {
			return err
		}
		if !allowed {
			return ctx.JSON(http.StatusOK, []collection.Record{})
		}
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	q.Order = ordering.Orderings

	recs, err := api.rows.Query(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "querying records")
	}
	if recs == nil {
		recs = []collection.Record{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

// queryAllowed reports whether q, a query of a collection with parent records, may run for claims.
// It must target one parent visible to the caller, or the caller's own records.
func (api *collectionApi) queryAllowed(ctx echo.Context, schema database.Schema, claims Claims, q collection.Query) (bool, error) {
	for _, f := range q.Filters {
		if f.Field != schema.Parent.Key {
			continue
		}
		parent, err := api.access.parent(ctx.Request().Context(), schema, claims, f.Value, false)
		return parent != nil, err
	}
	for _, f := range q.Filters {
		if schema.Owner != "" && f.Field == schema.Owner {
			return f.Value == claims.Subject, nil
		}
	}
	return false, echo.NewHTTPError(http.StatusBadRequest, "filter on "+schema.Parent.Key+" required")
}

func (api *collectionApi) bindPayload(ctx echo.Context, schema database.Schema, claims Claims) (collection.Record, error) {
	payload, err := bindRecord(ctx)
	if err != nil {
		return nil, err
	}
	delete(payload, collection.FieldID)
	delete(payload, collection.FieldCreatedAt)

	if schema.Scoped && (!claims.IsGod() || payload.Scope() == "") {
		payload[collection.FieldScope] = claims.CommunityID
	}
	// clients stamp their own origin to recognise the echo of their writes
	if payload.Origin() == "" {
		payload[collection.FieldOrigin] = claims.Subject
	}
	if claims.IsGod() {
		return payload, nil
	}
	if schema.Owner != "" {
		payload[schema.Owner] = claims.Subject
	}
	if schema.Parent != nil {
		parent, err := api.access.parent(ctx.Request().Context(), schema, claims, payload.Text(schema.Parent.Key), true)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, errHttpNotFound
		}
	}
	return payload, nil
}

func (api *collectionApi) insert(ctx echo.Context) error {
	schema, claims, err := schemaAndClaims(ctx)
	if err != nil {
		return err
	}
	payload, err := api.bindPayload(ctx, schema, claims)
	if err != nil {
		return err
	}

	rec, err := api.rows.Insert(ctx.Request().Context(), schema.Name, payload)
	if err != nil {
		return errors.Wrap(err, "inserting record")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *collectionApi) upsert(ctx echo.Context) error {
	schema, claims, err := schemaAndClaims(ctx)
	if err != nil {
		return err
	}
	var conflict []string
	ownConflict := false
	for _, field := range strings.Split(ctx.QueryParam(upsertParam), ",") {
		if field = strings.TrimSpace(field); field != "" {
			conflict = append(conflict, field)
			ownConflict = ownConflict || field == schema.Owner
		}
	}
	// never overwrite the record of someone else
	if schema.Owner != "" && !ownConflict && !claims.IsGod() {
		return echo.NewHTTPError(http.StatusBadRequest, "conflict fields must include "+schema.Owner)
	}
	payload, err := api.bindPayload(ctx, schema, claims)
	if err != nil {
		return err
	}

	rec, err := api.rows.Upsert(ctx.Request().Context(), schema.Name, payload, conflict...)
	if err != nil {
		return errors.Wrap(err, "upserting record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// getRecord returns the :id record of the collection, as long as the caller may see and change it.
func (api *collectionApi) getRecord(ctx echo.Context, schema database.Schema, claims Claims) (collection.Record, error) {
	q := collection.Query{Collection: schema.Name}.Where(collection.FieldID, ctx.Param("id"))
	recs, err := api.rows.Query(ctx.Request().Context(), q)
	if err != nil {
		return nil, errors.Wrap(err, "getting record")
	}
	if len(recs) == 0 {
		return nil, errHttpNotFound
	}
	visible, err := api.access.visible(ctx.Request().Context(), schema, claims, recs[0])
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errHttpNotFound
	}
	if !mayChange(schema, claims, recs[0]) {
		return nil, errHttpForbidden
	}
	return recs[0], nil
}

func (api *collectionApi) update(ctx echo.Context) error {
	schema, claims, err := schemaAndClaims(ctx)
	if err != nil {
		return err
	}
	if _, err = api.getRecord(ctx, schema, claims); err != nil {
		return err
	}

	patch, err := bindRecord(ctx)
	if err != nil {
		return err
	}
	delete(patch, collection.FieldID)
	delete(patch, collection.FieldCreatedAt)
	if !claims.IsGod() {
		delete(patch, collection.FieldScope)
		if schema.Owner != "" {
			delete(patch, schema.Owner)
		}
		if schema.Parent != nil {
			delete(patch, schema.Parent.Key)
		}
	}

	rec, err := api.rows.Update(ctx.Request().Context(), schema.Name, ctx.Param("id"), patch)
	if err != nil {
		return errors.Wrap(err, "updating record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *collectionApi) delete(ctx echo.Context) error {
	schema, claims, err := schemaAndClaims(ctx)
	if err != nil {
		return err
	}
	if _, err = api.getRecord(ctx, schema, claims); err != nil {
		return err
	}

	if err := api.rows.Delete(ctx.Request().Context(), schema.Name, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting record")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// bindRecord decodes the JSON body only. echo's binder would also copy the path params into the map.
func bindRecord(ctx echo.Context) (collection.Record, error) {
	rec := make(collection.Record)
	if err := json.NewDecoder(ctx.Request().Body).Decode(&rec); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return rec.Payload(), nil
}

func schemaAndClaims(ctx echo.Context) (database.Schema, Claims, error) {
	schema, err := getSchema(ctx)
	if err != nil {
		return database.Schema{}, Claims{}, err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return database.Schema{}, Claims{}, errors.Wrap(err, "getting context claims")
	}
	return schema, claims, nil
}
