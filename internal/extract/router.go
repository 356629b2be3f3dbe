package extract

import (
	"context"

	"github.com/kalambet/fatrocu/internal/intake"
)

// Router picks an extractor for each request. Manual configs and XML
// documents never reach the service.
type Router struct {
	Service Extractor
	XML     Extractor
	Manual  Extractor
}

// NewRouter returns a Router sending non-local documents to service.
func NewRouter(service Extractor) *Router {
	return &Router{Service: service, XML: UBL{}, Manual: Manual{}}
}

func (r *Router) Extract(ctx context.Context, req Request) (Result, error) {
	switch {
	case req.Config.Manual():
		return r.Manual.Extract(ctx, req)
	case intake.IsXML(req.MIMEType):
		return r.XML.Extract(ctx, req)
	case r.Service == nil:
		return Result{}, &ExtractionError{Message: "no extraction service is configured"}
	}
	return r.Service.Extract(ctx, req)
}
