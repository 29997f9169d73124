package server

import (
	"fmt"
	"os"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
)

// errorResponse builds the response for a failure status. The block's
// configured error page is preferred; a missing or unreadable page falls
// back to the built-in body so an error is always answerable. blk may be nil
// when the failure happened before host resolution.
func errorResponse(blk *config.ServerBlock, status int) *http11.Response {
	resp := http11.NewResponse(status)
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	if status == 204 {
		return resp
	}
	if blk != nil {
		if page := blk.ErrorPage(status); page != "" {
			if body, err := os.ReadFile(page); err == nil {
				resp.Body = body
				resp.SetHeader("Content-Type", contentTypeFor(page))
				return resp
			}
		}
	}
	resp.Body = defaultErrorBody(status)
	return resp
}

// defaultErrorBody mirrors the classic minimal server error page.
func defaultErrorBody(status int) []byte {
	return []byte(fmt.Sprintf(
		"<html><body><h1>%d %s</h1></body></html>",
		status, http11.StatusText(status)))
}
