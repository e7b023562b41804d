/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/scheduler"
	"github.com/courierkit/courier/pkg/store"
)

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	scheduledFor, err := time.Parse(time.RFC3339, req.ScheduledFor)
	if err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(fmt.Errorf("scheduled_for must be RFC 3339: %w", err)))
		return
	}
	msg, err := s.scheduler.Create(r.Context(), scheduler.CreateInput{
		ToHandle:     req.ToHandle,
		Body:         req.Body,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMessageResponse(msg, nil))
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(err))
		return
	}
	msgs, err := s.scheduler.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lo.Map(msgs, func(msg *v1.ScheduledMessage, _ int) messageResponse {
		return toMessageResponse(msg, nil)
	}))
}

func parseListFilter(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	filter := store.Filter{ToHandle: query.Get("to_handle")}
	if raw := query.Get("status"); raw != "" {
		status, err := v1.ParseStatus(raw)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Status = &status
	}
	if raw := query.Get("scheduled_from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, fmt.Errorf("scheduled_from must be RFC 3339: %w", err)
		}
		filter.ScheduledFrom = &from
	}
	if raw := query.Get("scheduled_to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, fmt.Errorf("scheduled_to must be RFC 3339: %w", err)
		}
		filter.ScheduledTo = &to
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return store.Filter{}, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	msg, events, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageResponse(msg, events))
}

func (s *Server) cancelMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	msg, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageResponse(msg, nil))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.scheduler.Claim(r.Context(), req.GatewayID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, claimResponse{
		ID:           msg.ID.String(),
		ToHandle:     msg.ToHandle,
		Body:         msg.Body,
		ScheduledFor: msg.ScheduledFor,
	})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !s.decode(w, r, &req) {
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(fmt.Errorf("message_id must be a UUID: %w", err)))
		return
	}
	status, err := v1.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(err))
		return
	}
	msg, err := s.scheduler.Report(r.Context(), scheduler.ReportInput{
		MessageID: messageID,
		Status:    status,
		Error:     req.Error,
		Detail:    req.Detail,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageResponse(msg, nil))
}

func (s *Server) getThrottle(w http.ResponseWriter, r *http.Request) {
	throttle, err := s.scheduler.GetThrottle(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toThrottleResponse(throttle))
}

func (s *Server) updateThrottle(w http.ResponseWriter, r *http.Request) {
	var req throttleRequest
	if !s.decode(w, r, &req) {
		return
	}
	throttle, err := s.scheduler.UpdateThrottle(r.Context(), scheduler.ThrottleUpdate{
		NextSendAt:       req.NextSendAt,
		IntervalSeconds:  req.IntervalSeconds,
		MaxAttempts:      req.MaxAttempts,
		RetryBaseSeconds: req.RetryBaseSeconds,
		RetryMaxSeconds:  req.RetryMaxSeconds,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toThrottleResponse(throttle))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: s.clock.Now().UTC()})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.statsCache.Get(statsCacheKey); ok {
		s.writeJSON(w, http.StatusOK, cached.(statsResponse))
		return
	}
	counts, err := s.scheduler.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	response := statsResponse{Counts: make(map[string]int, len(counts))}
	for status, count := range counts {
		response.Counts[string(status)] = count
	}
	s.statsCache.SetDefault(statsCacheKey, response)
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(fmt.Errorf("id must be a UUID: %w", err)))
		return uuid.Nil, false
	}
	return id, true
}

// decode unmarshals and validates a JSON request body, writing the 400 itself when
// the payload does not hold up.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(fmt.Errorf("decoding request body: %w", err)))
		return false
	}
	if err := s.validate.Struct(into); err != nil {
		s.writeError(w, v1.NewInvalidArgumentError(err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Errorw("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := v1.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "kind", kind, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: errorBody{Kind: string(kind), Message: err.Error()}})
}

func statusForKind(kind v1.ErrorKind) int {
	switch kind {
	case v1.ErrorKindInvalidArgument, v1.ErrorKindInvalidState:
		return http.StatusBadRequest
	case v1.ErrorKindNotFound:
		return http.StatusNotFound
	case v1.ErrorKindContention:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
