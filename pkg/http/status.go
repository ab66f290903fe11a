package xhttp

import (
	"github.com/valyala/fasthttp"
)

// Status codes used across the package, re-exported so callers built on
// xhttp do not need a second fasthttp import.
const (
	StatusNotFound            = fasthttp.StatusNotFound
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusInternalServerError = fasthttp.StatusInternalServerError
)

// StatusText returns the canonical reason phrase for a status code.
var StatusText = fasthttp.StatusMessage
