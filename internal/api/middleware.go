package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingWithTracer returns middleware that wraps each request in a span named
// after its route. 5xx responses mark the span as failed.
func TracingWithTracer(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(), "rqmon.http "+c.Request.Method+" "+route,
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if n, ok := c.Get(instanceKey); ok {
			span.SetAttributes(attribute.Int("rqmon.instance", n.(int)))
		}
		if status >= http.StatusInternalServerError {
			msg := http.StatusText(status)
			if len(c.Errors) > 0 {
				msg = c.Errors.Last().Error()
				span.RecordError(c.Errors.Last().Err)
			}
			span.SetStatus(codes.Error, msg)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

const instanceKey = "rqmon.instance"

// instance routes the request to the store chosen by instance_number (query or
// form value). Without it the default store is used.
func (a *API) instance() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("instance_number")
		if raw == "" {
			raw = c.PostForm("instance_number")
		}
		if raw == "" || a.instances == nil {
			c.Next()
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.abort(c, http.StatusBadRequest, "instance_number must be an integer", err)
			return
		}
		ctx, err := a.instances.Use(c.Request.Context(), n)
		if err != nil {
			a.fail(c, err)
			c.Abort()
			return
		}
		c.Set(instanceKey, n)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// limit throttles mutating routes.
func (a *API) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.limiter.Allow() {
			a.abort(c, http.StatusTooManyRequests, "too many requests, retry later", nil)
			return
		}
		c.Next()
	}
}
