package server

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"

	"repolens/internal/core"
)

// maxDecompressedSize bounds how much a compressed request body may expand to.
const maxDecompressedSize = 16 * 1024 * 1024 // 16MB

// decompressRequest transparently inflates compressed request bodies.
// Supports gzip, deflate, and brotli (br) encodings; anything else passes
// through untouched.
func decompressRequest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil {
				return next(c)
			}

			// Parse encoding (handle "gzip, deflate" - take first)
			encoding := strings.TrimSpace(strings.Split(req.Header.Get("Content-Encoding"), ",")[0])
			encoding = strings.ToLower(encoding)

			var reader io.Reader
			switch encoding {
			case "", "identity":
				return next(c)
			case "gzip":
				gz, err := gzip.NewReader(req.Body)
				if err != nil {
					return handleError(c, core.NewInvalidRequestError("malformed gzip request body", err))
				}
				defer gz.Close()
				reader = gz
			case "deflate":
				fl := flate.NewReader(req.Body)
				defer fl.Close()
				reader = fl
			case "br":
				reader = brotli.NewReader(req.Body)
			default:
				return next(c)
			}

			// Read with size limit (compression bomb protection)
			body, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
			if err != nil {
				return handleError(c, core.NewInvalidRequestError("failed to decompress request body", err))
			}

			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
			req.Header.Del("Content-Encoding")
			req.Header.Del("Content-Length")

			return next(c)
		}
	}
}
