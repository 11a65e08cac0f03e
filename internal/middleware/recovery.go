package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryMiddleware recovers from panics and logs the error. If the response
// was already started the connection is aborted instead of appending an error
// body to a partial media stream.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if e, ok := err.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(err)
				}

				logger.WithFields(logrus.Fields{
					"error":  err,
					"method": r.Method,
					"path":   r.URL.Path,
					"stack":  string(debug.Stack()),
				}).Error("Panic recovered")

				if rw.wroteHeader {
					panic(http.ErrAbortHandler)
				}
				http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
