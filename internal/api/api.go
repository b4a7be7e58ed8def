// Package api wires the gateway's HTTP surface: gin's router, the health
// check and zome-call routes, and error-to-HTTP translation.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/holochain/hc-http-gw/internal/gwerrors"
	"github.com/holochain/hc-http-gw/internal/logging"
	"github.com/holochain/hc-http-gw/internal/pipeline"
)

const zomeCallPath = "/:network_id/:app_id/:module/:fn"

// NewEngine builds the gin.Engine serving the gateway's HTTP surface.
func NewEngine(p *pipeline.Pipeline) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())

	r.GET("/health", handleHealth)
	r.GET(zomeCallPath, handleZomeCall(p))

	methodNotAllowed := func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "")
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions} {
		r.Handle(method, "/health", methodNotAllowed)
		r.Handle(method, zomeCallPath, methodNotAllowed)
	}

	return r
}

func handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "Ok")
}

func handleZomeCall(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, hasPayload := c.GetQuery("payload")
		req := pipeline.Request{
			NetworkID:  c.Param("network_id"),
			AppID:      c.Param("app_id"),
			Module:     c.Param("module"),
			Fn:         c.Param("fn"),
			Payload:    payload,
			HasPayload: hasPayload,
		}

		body, err := p.Execute(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Data(http.StatusOK, "application/json", []byte(body))
	}
}

func writeError(c *gin.Context, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.Internal(err)
	}

	body, marshalErr := sjson.Set(`{}`, "error", gwErr.Body())
	if marshalErr != nil {
		body = `{"error":"Something went wrong"}`
	}

	_ = c.Error(gwErr)
	c.Data(gwErr.HTTPStatus(), "application/json", []byte(body))
}
