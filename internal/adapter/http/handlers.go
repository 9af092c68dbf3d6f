package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/cache"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/engine"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/pipeline"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/resolver"
)

// errBadRequest marks malformed input: bad JSON, unknown axis, bad ids.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fetchErr *pipeline.FetchError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrBusy),
		errors.Is(err, pipeline.ErrSuperseded),
		errors.Is(err, pipeline.ErrReferenceIndex):
		return http.StatusConflict
	case errors.Is(err, engine.ErrTableNotFound),
		errors.Is(err, engine.ErrFeatureNotFound),
		errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnresolved),
		errors.Is(err, domain.ErrAxisInactive),
		errors.Is(err, domain.ErrUpstreamUnset),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, resolver.ErrNotSelected),
		errors.Is(err, resolver.ErrNotOffered),
		errors.Is(err, engine.ErrUnknownVariable),
		errors.Is(err, engine.ErrSparseGrid),
		errors.Is(err, pipeline.ErrNoVariables),
		errors.Is(err, animation.ErrTimeIndex):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- selection ---

type selectBody struct {
	Value string `json:"value"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Selector.State())
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	st, err := s.api.Selector.Bootstrap(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	axis, err := domain.ParseAxis(r.PathValue("axis"))
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	var body selectBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, badRequest("decode body: %v", err))
		return
	}
	if body.Value == "" {
		s.writeError(w, r, badRequest("value is required"))
		return
	}
	st, err := s.api.Selector.Select(r.Context(), axis, body.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var p domain.Path
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, badRequest("decode path: %v", err))
		return
	}
	st, err := s.api.Selector.Restore(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBreadcrumb(w http.ResponseWriter, r *http.Request) {
	axis, err := domain.ParseAxis(r.PathValue("axis"))
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	st, err := s.api.Selector.Breadcrumb(r.Context(), axis)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	st, err := s.api.Selector.Root(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- datasets ---

// loadBody requests a load. A missing path loads the current selection and a
// missing feature falls back to the one located by search.
type loadBody struct {
	Path     *domain.Path `json:"path,omitempty"`
	Feature  string       `json:"feature,omitempty"`
	Variable string       `json:"variable,omitempty"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var body loadBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, badRequest("decode body: %v", err))
			return
		}
	}

	req := pipeline.LoadRequest{Variable: body.Variable}
	if body.Path != nil {
		req.Path = *body.Path
	} else {
		p, ok := s.api.Selector.Resolved()
		if !ok {
			s.writeError(w, r, domain.ErrUnresolved)
			return
		}
		req.Path = p
	}
	feature := body.Feature
	if feature == "" {
		feature = s.api.Selector.State().Feature
	}
	if feature != "" {
		id, err := domain.ParseFeatureID(feature)
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		req.FeatureID = id
	}

	res, err := s.api.Datasets.Load(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type timeseriesResponse struct {
	Key      string         `json:"key"`
	Feature  int64          `json:"feature"`
	Variable string         `json:"variable"`
	Units    string         `json:"units"`
	Points   []domain.Point `json:"points"`
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	q := r.URL.Query()

	id, err := domain.ParseFeatureID(q.Get("feature"))
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	variable := q.Get("variable")
	if variable == "" {
		s.writeError(w, r, badRequest("variable is required"))
		return
	}
	slot := pipeline.SlotFeature
	switch q.Get("slot") {
	case "", string(pipeline.SlotFeature):
	case string(pipeline.SlotVariable):
		slot = pipeline.SlotVariable
	default:
		s.writeError(w, r, badRequest("unknown slot %q", q.Get("slot")))
		return
	}

	points, err := s.api.Datasets.Timeseries(r.Context(), slot, key, id, variable)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeseriesResponse{
		Key:      key,
		Feature:  id,
		Variable: variable,
		Units:    domain.VariableUnits(variable),
		Points:   points,
	})
}

type animationResponse struct {
	Key        string      `json:"key"`
	FeatureIDs []int64     `json:"feature_ids"`
	Times      []time.Time `json:"times"`
	Labels     []string    `json:"labels"`
}

func (s *Server) handleAnimationIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.api.Frames.Index(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	labels := make([]string, idx.NumTimes())
	for i := range labels {
		labels[i] = idx.TimeLabel(i)
	}
	writeJSON(w, http.StatusOK, animationResponse{
		Key:        idx.Key,
		FeatureIDs: idx.FeatureIDs,
		Times:      idx.Times,
		Labels:     labels,
	})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.Atoi(r.PathValue("t"))
	if err != nil {
		s.writeError(w, r, badRequest("time index: %v", err))
		return
	}
	variable := r.URL.Query().Get("variable")
	if variable == "" {
		s.writeError(w, r, badRequest("variable is required"))
		return
	}
	fr, err := s.api.Frames.Frame(r.Context(), r.PathValue("key"), variable, t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

// --- features ---

type featureResponse struct {
	ID         string            `json:"id"`
	Properties map[string]any    `json:"properties"`
	Labels     map[string]string `json:"labels"`
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	props, err := s.api.Features.FeatureProperties(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	labels := make(map[string]string, len(props))
	for col := range props {
		labels[col] = domain.PropertyLabel(col)
	}
	writeJSON(w, http.StatusOK, featureResponse{ID: id, Properties: props, Labels: labels})
}

// handleLocate looks a feature up in the reference index and moves the
// selection to its spatial unit.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	props, err := s.api.Features.FeatureProperties(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vpuid, _ := props["vpuid"].(string)
	st, err := s.api.Selector.Locate(r.Context(), id, vpuid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- cache ---

func (s *Server) handleCacheList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.api.Cache.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	deleted, err := s.api.Datasets.Evict(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.api.Frames.Reset()
	if !deleted {
		s.writeError(w, r, fmt.Errorf("%w: %s", cache.ErrNotFound, key))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.api.Datasets.Reset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.api.Frames.Reset()
	w.WriteHeader(http.StatusNoContent)
}
