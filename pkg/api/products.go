package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/catalog/pkg/httputil"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
)

type productNotFound struct {
	Error     string      `json:"error"`
	ProductID interface{} `json:"product_id"`
}

// listProducts handles GET /products
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	log.Info("Fetching all products")

	span := s.spans.StartChild(observability.SpanFromContext(r.Context()), "db_query_products")
	defer span.Finish()

	products, source, err := storage.ReadList(observability.ContextWithSpan(r.Context(), span), s.store)
	s.tagSource(span, source, "SELECT * FROM products")
	if err != nil {
		span.SetError()
		s.storeFailure(w, log, "Failed to fetch products", err)
		return
	}
	s.countRead(log, source)

	log.WithField("count", len(products)).Infof("%d products fetched", len(products))
	httputil.WriteSuccess(w, products)
}

// getProduct handles GET /products/{id}
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		// The route admits digits only; this identifier overflows int64.
		s.productNotFound(w, log, httputil.GetPathVar(r, "id"))
		return
	}
	log = log.WithField("product_id", id)
	log.Infof("Fetching product %d", id)

	span := s.spans.StartChild(observability.SpanFromContext(r.Context()), "db_query_product_by_id")
	defer span.Finish()
	span.SetTag("product.id", id)

	product, source, err := storage.ReadByID(observability.ContextWithSpan(r.Context(), span), s.store, id)
	s.tagSource(span, source, fmt.Sprintf("SELECT * FROM products WHERE id = %d", id))
	if errors.Is(err, storage.ErrNotFound) {
		s.countRead(log, source)
		s.productNotFound(w, log, id)
		return
	}
	if err != nil {
		span.SetError()
		s.storeFailure(w, log, fmt.Sprintf("Failed to fetch product %d", id), err)
		return
	}
	s.countRead(log, source)

	log.Infof("Product %d found: %s", id, product.Name)
	httputil.WriteSuccess(w, product)
}

// createProduct handles POST /products
func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	log.Info("Creating a new product")

	var product storage.Product
	if err := httputil.ParseJSON(r, &product); err != nil {
		if errors.Is(err, httputil.ErrEmptyBody) {
			log.WithError(err).Warn("Product creation rejected: missing JSON data")
			httputil.WriteErrorMessage(w, http.StatusBadRequest, "Missing JSON data", "")
			return
		}
		log.WithError(err).Warn("Product creation rejected: invalid JSON")
		httputil.WriteBadRequest(w, "Invalid JSON", err.Error())
		return
	}
	product.ID = 0

	if err := product.Validate(); err != nil {
		var verr *storage.ValidationError
		field := ""
		if errors.As(err, &verr) {
			field = verr.Field
		}
		log.WithFields(map[string]interface{}{"error": err.Error(), "field": field}).
			Warnf("Validation failed: %s", err.Error())
		httputil.WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	span := s.spans.StartChild(observability.SpanFromContext(r.Context()), "db_insert_product")
	defer span.Finish()
	span.SetTag("db.type", "sql")
	span.SetTag("db.statement", "INSERT INTO products")

	created, err := s.store.Insert(observability.ContextWithSpan(r.Context(), span), &product)
	if err != nil {
		span.SetError()
		s.storeFailure(w, log, "Failed to create product", err)
		return
	}
	s.countQuery(log, "INSERT")
	span.SetTag("product.id", created.ID)

	log.WithFields(map[string]interface{}{
		"product_id":   created.ID,
		"product_name": created.Name,
	}).Infof("Product created: ID=%d", created.ID)
	httputil.WriteCreated(w, created)
}

// tagSource records on span whether a cache answered the read; store reads
// also carry the statement.
func (s *Server) tagSource(span *observability.Span, source storage.Source, statement string) {
	span.SetTag("cache.hit", source == storage.SourceCache)
	if source == storage.SourceStore {
		span.SetTag("db.type", "sql")
		span.SetTag("db.statement", statement)
	}
}

// countRead counts a read in database_queries_total only when it reached the
// store
func (s *Server) countRead(log *observability.Logger, source storage.Source) {
	if source == storage.SourceStore {
		s.countQuery(log, "SELECT")
	}
}

func (s *Server) productNotFound(w http.ResponseWriter, log *observability.Logger, id interface{}) {
	log.WithFields(map[string]interface{}{"error": "product not found", "product_id": id}).
		Warnf("Product %v not found", id)
	httputil.WriteJSON(w, http.StatusNotFound, productNotFound{Error: "Product not found", ProductID: id})
}

// storeFailure answers a dependency failure with 500 and one ERROR record
func (s *Server) storeFailure(w http.ResponseWriter, log *observability.Logger, message string, err error) {
	log.WithError(err).Error(message)
	httputil.WriteError(w, http.StatusInternalServerError, "Server error", err)
}
