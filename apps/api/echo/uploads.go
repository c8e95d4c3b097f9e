package echoapi

import (
	"io/ioutil"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/media"
	"github.com/monquartier/monquartier/services/metrics"
	"github.com/monquartier/monquartier/storage/blob/memory"
)

type uploadApi struct {
	uploads backend.Uploader
	metrics *metrics.Metrics
}

func registerUploadAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *uploadApi) {
	g.POST("/uploads", api.upload, jwt)
}

// registerMediaRoutes serves the files of the in-process blob store.
func registerMediaRoutes(app *echo.Echo, blobs *memory.Store) {
	app.GET("/media/*", func(ctx echo.Context) error {
		data, contentType, err := blobs.Get(ctx.Request().Context(), ctx.Param("*"))
		if err != nil {
			if errors.Cause(err) == memory.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "getting blob")
		}
		return ctx.Blob(http.StatusOK, contentType, data)
	})
}

func (api *uploadApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return media.ErrEmpty
	}
	if fh.Size > media.MaxSize {
		return media.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "reading uploaded file")
	}

	url, err := api.uploads.Upload(ctx.Request().Context(), data, ctx.QueryParam("path"), fh.Filename)
	if err != nil {
		return err
	}
	if api.metrics != nil {
		api.metrics.ObserveUpload(len(data))
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{URL: url})
}

type UploadResponse struct {
	URL string `json:"url"`
}
