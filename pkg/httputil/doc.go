// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, products)
//	httputil.WriteCreated(w, product)
//	httputil.WriteBadRequest(w, "Validation failed", "price must be greater than 0")
//	httputil.WriteInternalError(w, err)
//
// Error bodies share the ErrorResponse shape: {"error": ..., "message": ...}.
//
// # Request Parsing
//
//	var product storage.Product
//	if err := httputil.ParseJSON(r, &product); errors.Is(err, httputil.ErrEmptyBody) {
//		// 400 missing JSON data
//	}
//	id, err := httputil.ParsePathInt64(r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.CORSMiddleware([]string{"*"}),
//	)(router)
//
// ResponseWriter captures the status code for instrumentation.
package httputil
