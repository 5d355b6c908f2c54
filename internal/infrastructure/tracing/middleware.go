package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing. Inbound trace
// headers are honored when they look like identifiers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if utils.ValidateID(traceID, "trace id", false) != nil {
			traceID = ""
		}
		parent := c.GetHeader(SpanHeader)
		if utils.ValidateID(parent, "span id", false) != nil {
			parent = ""
		}
		ctx := WithTrace(c.Request.Context(), TraceID(traceID), SpanID(parent))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
