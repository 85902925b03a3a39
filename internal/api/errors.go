package api

import (
	"errors"
	"net/http"

	"github.com/UniQw/rqmon"
	"github.com/gin-gonic/gin"
)

// statusFor maps an error onto a status band.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rqmon.ErrInvalidRequest),
		errors.Is(err, rqmon.ErrInvalidJobOperation),
		errors.Is(err, rqmon.ErrUnknownInstance):
		return http.StatusBadRequest
	case errors.Is(err, rqmon.ErrNotFound), errors.Is(err, rqmon.ErrProcessGone):
		return http.StatusNotFound
	case errors.As(err, new(*rqmon.PermissionDeniedError)):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the normalized error shape for err.
func (a *API) fail(c *gin.Context, err error) {
	a.abort(c, statusFor(err), err.Error(), err)
}

// abort writes {message, status_code} and, in debug mode, the error chain as traceback.
func (a *API) abort(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"message": msg, "status_code": status}
	if err != nil {
		_ = c.Error(err)
		if a.debug {
			body["traceback"] = chain(err)
		}
	}
	if status >= http.StatusInternalServerError {
		a.log.Errorf("api: %s %s status=%d err=%v", c.Request.Method, c.Request.URL.Path, status, err)
	}
	c.AbortWithStatusJSON(status, body)
}

// chain flattens an error tree depth first.
func chain(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
