package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// decompressIntents inflates gzip-encoded intent batches before postIntents
// reads them. A compressed body declared larger than limit is refused up
// front; the inflated stream is capped by the handler itself, so a small
// payload that expands past limit is answered with 413 as well.
func decompressIntents(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipEncoded(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			if req.ContentLength > limit {
				_ = req.Body.Close()
				return c.JSON(http.StatusRequestEntityTooLarge, postIntentResponse{Error: "body too large"})
			}

			raw := req.Body
			zr, err := gzip.NewReader(raw)
			if err != nil {
				_ = raw.Close()
				return c.JSON(http.StatusBadRequest, postIntentResponse{Error: "invalid gzip body"})
			}
			req.Body = &inflatedBody{Reader: zr, raw: raw}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func gzipEncoded(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		switch strings.ToLower(strings.TrimSpace(enc)) {
		case "gzip", "x-gzip":
			return true
		}
	}
	return false
}

type inflatedBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
