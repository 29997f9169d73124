package server

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
	"github.com/watt-toolkit/filament/pkg/filament/router"
)

// maxInMemoryFile bounds the files loaded into the response buffer (where
// they can be content-encoded). Anything larger streams zero-copy via
// sendfile after the head drains.
const maxInMemoryFile = 256 * 1024

// buildResponse executes every non-CGI decision synchronously and returns
// the response to write. CGI is the one asynchronous action and is handled
// by the connection itself.
func buildResponse(blk *config.ServerBlock, req *http11.Request, d router.Decision) *http11.Response {
	switch d.Kind {
	case router.KindError:
		resp := errorResponse(blk, d.Status)
		if d.Status == 405 && len(d.Allow) > 0 {
			resp.SetHeader("Allow", strings.Join(d.Allow, ", "))
		}
		return resp

	case router.KindRedirect:
		resp := http11.NewResponse(d.Status)
		resp.SetHeader("Location", d.Location)
		resp.SetHeader("Content-Type", "text/html; charset=utf-8")
		resp.Body = defaultErrorBody(d.Status)
		return resp

	case router.KindStatic:
		return serveFile(blk, req, d.FsPath)

	case router.KindAutoindex:
		listing, err := router.Autoindex(d.FsPath, req.Path)
		if err != nil {
			return errorResponse(blk, 403)
		}
		resp := http11.NewResponse(200)
		resp.SetHeader("Content-Type", "text/html; charset=utf-8")
		finishInMemory(resp, req, listing)
		return resp

	case router.KindUpload:
		return serveUpload(blk, req, d.FsPath)

	case router.KindDelete:
		return serveDelete(blk, d.FsPath)

	default:
		return errorResponse(blk, 500)
	}
}

// serveFile answers GET/HEAD for a regular file. Small files are read into
// memory so encoding negotiation applies; large ones attach the open
// descriptor for the sendfile write path (ownership moves to the connection,
// which closes it on completion or teardown).
func serveFile(blk *config.ServerBlock, req *http11.Request, fsPath string) *http11.Response {
	f, err := os.Open(fsPath)
	if err != nil {
		if os.IsPermission(err) {
			return errorResponse(blk, 403)
		}
		return errorResponse(blk, 404)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return errorResponse(blk, 403)
	}

	ct := contentTypeFor(fsPath)
	resp := http11.NewResponse(200)
	resp.SetHeader("Content-Type", ct)

	if req.MethodID == http11.MethodHEAD {
		f.Close()
		resp.SetHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
		return resp
	}

	if info.Size() <= maxInMemoryFile {
		body := make([]byte, info.Size())
		if _, err := io.ReadFull(f, body); err != nil {
			f.Close()
			return errorResponse(blk, 500)
		}
		f.Close()
		if compressible(ct) {
			finishInMemory(resp, req, body)
		} else {
			resp.Body = body
		}
		return resp
	}

	resp.File = f
	resp.FileSize = info.Size()
	return resp
}

// serveUpload stores the reassembled request body. 201 on create, 204 when
// an existing resource was replaced.
func serveUpload(blk *config.ServerBlock, req *http11.Request, target string) *http11.Response {
	_, statErr := os.Stat(target)
	existed := statErr == nil

	if err := os.WriteFile(target, req.Body, 0o644); err != nil {
		if os.IsPermission(err) {
			return errorResponse(blk, 403)
		}
		return errorResponse(blk, 500)
	}

	if existed {
		return http11.NewResponse(204)
	}
	resp := http11.NewResponse(201)
	resp.SetHeader("Location", req.Path)
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte("Created\n")
	return resp
}

func serveDelete(blk *config.ServerBlock, target string) *http11.Response {
	if err := os.Remove(target); err != nil {
		switch {
		case os.IsNotExist(err):
			return errorResponse(blk, 404)
		case os.IsPermission(err):
			return errorResponse(blk, 403)
		default:
			return errorResponse(blk, 500)
		}
	}
	return http11.NewResponse(204)
}

// finishInMemory applies encoding negotiation to an in-memory body and
// attaches it.
func finishInMemory(resp *http11.Response, req *http11.Request, body []byte) {
	encoded, encoding := encodeBody(body, negotiateEncoding(req.Header.Get("accept-encoding")))
	if encoding != "" {
		resp.SetHeader("Content-Encoding", encoding)
		resp.SetHeader("Vary", "Accept-Encoding")
	}
	resp.Body = encoded
}
