package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/oursky/experiment-runner/pkg/coordinator"
	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

var errBadRequest = errors.New("bad request")

type userIDKey struct{}

// requireUser takes the caller id from X-User-ID. Experiment records are
// always scoped to it.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			httputil.RespondError(rw, http.StatusUnauthorized, "missing user")
			return
		}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func (s *Server) decode(rw http.ResponseWriter, r *http.Request, body any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(body); err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	if err := s.validate.Struct(body); err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	return nil
}

func (s *Server) page(r *http.Request) store.Page {
	query := r.URL.Query()
	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(query.Get("perPage"))
	if err != nil || perPage < 1 {
		perPage = 20
	}
	return store.Page{Page: page, PerPage: min(perPage, s.config.GetMaxPerPage())}
}

func (s *Server) respondErr(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		httputil.RespondError(rw, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		httputil.RespondError(rw, http.StatusNotFound, "not found")
	case errors.Is(err, experiments.ErrInvalidOperationForStatus):
		httputil.RespondError(rw, http.StatusConflict, err.Error())
	case errors.Is(err, coordinator.ErrRunnerUnavailable),
		errors.Is(err, coordinator.ErrSendFailed),
		errors.Is(err, coordinator.ErrServerStopped):
		httputil.RespondError(rw, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		httputil.RespondError(rw, http.StatusInternalServerError, "internal error")
	}
}
