package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
)

type channelApi struct {
	rows  collection.RowStore
	locks chat.Locks
}

func registerChannelAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *channelApi) {
	cg := g.Group("/channels/:id", jwt, api.ctxChannelMiddleware())
	cg.POST("/password", api.setPassword)
	cg.POST("/join", api.join)
}

// ctxChannelMiddleware loads the :id channel when it belongs to the community of the caller.
func (api *channelApi) ctxChannelMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			q := collection.Query{Collection: chat.ChannelsCollection}.Where(collection.FieldID, ctx.Param("id"))
			recs, err := api.rows.Query(ctx.Request().Context(), q)
			if err != nil {
				return errors.Wrap(err, "getting channel")
			}
			if len(recs) == 0 {
				return errHttpNotFound
			}
			ch, err := chat.ChannelFromRecord(recs[0])
			if err != nil {
				return err
			}
			if !claims.IsGod() && ch.CommunityID != claims.CommunityID {
				return errHttpNotFound
			}
			ctx.Set("channel", ch)
			return next(ctx)
		}
	}
}

func getChannel(ctx echo.Context) (chat.Channel, error) {
	ch, ok := ctx.Get("channel").(chat.Channel)
	if !ok {
		return chat.Channel{}, errors.New("channel not found in echo.Context")
	}
	return ch, nil
}

// Handlers

func (api *channelApi) setPassword(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	ch, err := getChannel(ctx)
	if err != nil {
		return err
	}
	if ch.CreatorID != claims.Subject && !claims.IsAdmin() {
		return errHttpForbidden
	}

	var data ChannelPasswordRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChannelPasswordRequest")
	}
	if err := api.locks.SetPassword(ctx.Request().Context(), ch.ID, data.Password); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *channelApi) join(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	ch, err := getChannel(ctx)
	if err != nil {
		return err
	}

	var data ChannelPasswordRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChannelPasswordRequest")
	}
	rec, err := api.locks.Join(ctx.Request().Context(), ch.ID, claims.Subject, data.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

type ChannelPasswordRequest struct {
	Password string `json:"password"`
}
