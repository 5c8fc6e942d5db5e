package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/noahxzhu/alarm-notify/internal/coordinator"
	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

type scheduleBody struct {
	Name    string        `json:"name"`
	Time    string        `json:"time"`
	Date    string        `json:"date"`
	Message *string       `json:"message"`
	Targets model.Targets `json:"targets"`
	Repeat  model.Repeat  `json:"repeat"`
	Sound   string        `json:"sound"`
}

type changesBody struct {
	Name    *string        `json:"name"`
	Time    *string        `json:"time"`
	Date    *string        `json:"date"`
	Message *string        `json:"message"`
	Targets *model.Targets `json:"targets"`
	Repeat  *model.Repeat  `json:"repeat"`
	Sound   *string        `json:"sound"`
}

func (b changesBody) changes() coordinator.Changes {
	return coordinator.Changes{
		Time:        b.Time,
		Date:        b.Date,
		DisplayName: b.Name,
		Message:     b.Message,
		Targets:     b.Targets,
		Repeat:      b.Repeat,
		Sound:       b.Sound,
	}
}

type snoozeBody struct {
	Minutes int `json:"minutes"`
}

type statusResponse struct {
	Kind  model.Kind         `json:"kind,omitempty"`
	Count int                `json:"count"`
	Items []model.ItemRecord `json:"items"`
}

func isAPI(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/api/") }

// kindParam parses {kind}. "all" maps to the empty kind when allowAll is set.
func kindParam(w http.ResponseWriter, r *http.Request, allowAll bool) (model.Kind, bool) {
	raw := r.PathValue("kind")
	if allowAll && strings.EqualFold(raw, "all") {
		return "", true
	}
	k, err := model.ParseKind(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return k, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, false)
	if !ok {
		return
	}
	var body scheduleBody
	if !decode(w, r, &body) {
		return
	}
	id, err := s.coord.Schedule(r.Context(), coordinator.ScheduleRequest{
		Kind:        kind,
		DisplayName: body.Name,
		Time:        body.Time,
		Date:        body.Date,
		Message:     body.Message,
		Targets:     body.Targets,
		Repeat:      body.Repeat,
		Sound:       body.Sound,
	})
	if id == "" {
		s.fail(w, err)
		return
	}
	item, _ := s.coord.Get(id)
	if err != nil {
		// Scheduled in memory, not persisted.
		s.log.Warn("schedule not persisted", logx.String("id", id), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "item": item.Record()})
		return
	}
	writeJSON(w, http.StatusCreated, item.Record())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, true)
	if !ok {
		return
	}
	if kind == "" {
		items := s.coord.List()
		writeJSON(w, http.StatusOK, statusResponse{Count: len(items), Items: records(items)})
		return
	}
	sum := s.coord.Status(kind)
	writeJSON(w, http.StatusOK, statusResponse{Kind: sum.Kind, Count: sum.Count, Items: records(sum.Items)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, false)
	if !ok {
		return
	}
	if err := s.coord.Stop(r.Context(), r.PathValue("id"), kind); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, false)
	if !ok {
		return
	}
	var body snoozeBody
	if !decode(w, r, &body) {
		return
	}
	if err := s.coord.Snooze(r.Context(), r.PathValue("id"), body.Minutes, kind); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, false)
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, true)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, revive bool) {
	kind, ok := kindParam(w, r, false)
	if !ok {
		return
	}
	var body changesBody
	if !decode(w, r, &body) {
		return
	}
	op := s.coord.Edit
	if revive {
		op = s.coord.Reschedule
	}
	if err := op(r.Context(), r.PathValue("id"), body.changes(), kind); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, false)
	if !ok {
		return
	}
	if err := s.coord.Delete(r.Context(), r.PathValue("id"), kind); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, true)
	if !ok {
		return
	}
	n, err := s.coord.StopAll(r.Context(), kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": n})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r, true)
	if !ok {
		return
	}
	n, err := s.coord.DeleteAll(r.Context(), kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", logx.Err(err))
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput), errors.Is(err, coordinator.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrKindMismatch), errors.Is(err, coordinator.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrPastSchedule), errors.Is(err, coordinator.ErrRepeatComputation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func records(items []model.Item) []model.ItemRecord {
	out := make([]model.ItemRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.Record())
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
