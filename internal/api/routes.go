package api

import (
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func RegisterRoutes(container *restful.Container, handler *Handler) {
	ws := new(restful.WebService)

	ws.
		Path("/api/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.
		Route(ws.GET("/health").
			To(handler.Health).
			Doc("Health check with corpus status").
			Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
			Writes(HealthResponse{}).
			Returns(200, "OK", HealthResponse{}).
			Returns(500, "Internal Server Error", ErrorResponse{}))

	ws.
		Route(ws.POST("/query").
			To(handler.Query).
			Doc("Retrieve the k most similar chunks").
			Metadata(restfulspec.KeyOpenAPITags, []string{"query"}).
			Reads(QueryRequest{}).
			Writes(QueryResponse{}).
			Returns(200, "OK", QueryResponse{}).
			Returns(400, "Bad Request", ErrorResponse{}).
			Returns(404, "Empty Index", ErrorResponse{}).
			Returns(503, "Embedding Unavailable", ErrorResponse{}).
			Returns(504, "Timed Out", ErrorResponse{}))

	ws.
		Route(ws.POST("/ask").
			To(handler.Ask).
			Doc("Answer a question from retrieved chunks").
			Metadata(restfulspec.KeyOpenAPITags, []string{"query"}).
			Reads(QueryRequest{}).
			Writes(AskResponse{}).
			Returns(200, "OK", AskResponse{}).
			Returns(400, "Bad Request", ErrorResponse{}).
			Returns(404, "Empty Index", ErrorResponse{}).
			Returns(503, "Embedding Unavailable", ErrorResponse{}).
			Returns(504, "Timed Out", ErrorResponse{}))

	ws.
		Route(ws.GET("/documents").
			To(handler.Documents).
			Doc("List ingested documents").
			Metadata(restfulspec.KeyOpenAPITags, []string{"documents"}).
			Writes([]DocumentResponse{}).
			Returns(200, "OK", []DocumentResponse{}))

	ws.
		Route(ws.GET("/documents/{id:*}").
			To(handler.Document).
			Doc("Show a document, or list its chunks when the path ends in /chunks").
			Metadata(restfulspec.KeyOpenAPITags, []string{"documents"}).
			Param(ws.PathParameter("id", "Document id, optionally followed by /chunks").DataType("string")).
			Returns(200, "OK", []ChunkResponse{}).
			Returns(404, "Not Found", ErrorResponse{}))

	container.Add(ws)
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "RAG Retrieval API",
			Description: "Semantic retrieval over ingested documentation",
			Version:     Version,
		},
	}
	swo.Tags = []spec.Tag{
		{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
		{TagProps: spec.TagProps{Name: "query", Description: "Retrieval and answers"}},
		{TagProps: spec.TagProps{Name: "documents", Description: "Corpus inspection"}},
	}
}

// NewServer assembles the container with filters, routes, the OpenAPI document
// at /apidocs.json and CORS for the given origins.
func NewServer(handler *Handler, allowedOrigins []string, logger *zerolog.Logger) http.Handler {
	container := restful.NewContainer()
	container.Filter(Logger(logger))
	container.Filter(RecoverPanic(logger))

	RegisterRoutes(container, handler)

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return corsHandler.Handler(container)
}
