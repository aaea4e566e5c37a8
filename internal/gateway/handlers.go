package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/types"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type authenticateRequest struct {
	DeviceCode string `json:"device_code"`
	Secret     string `json:"secret"`
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req types.CreateStudentRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.students.CreateStudent(r.Context(), AccessContextFrom(r.Context()), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	result, err := s.students.GetStudent(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetStudentByCode(w http.ResponseWriter, r *http.Request) {
	result, err := s.students.GetStudentByCode(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["code"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := &types.StudentFilters{
		HubID:  q.Get("hub_id"),
		Status: types.StudentStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}

	list, err := s.students.ListStudents(r.Context(), AccessContextFrom(r.Context()), filters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"students": list, "count": len(list)})
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	var updates types.StudentUpdates
	if !s.decode(w, r, &updates) {
		return
	}

	result, err := s.students.UpdateStudent(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"], &updates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	err := s.students.DeleteStudent(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"], r.URL.Query().Get("reason"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportStudent(w http.ResponseWriter, r *http.Request) {
	export, err := s.students.ExportStudentData(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterDeviceRequest
	if !s.decode(w, r, &req) {
		return
	}

	reg, err := s.devices.RegisterDevice(r.Context(), AccessContextFrom(r.Context()), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleValidateDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.devices.ValidateDevice(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["code"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "device": device})
}

func (s *Server) handleAuthenticateDevice(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !s.decode(w, r, &req) {
		return
	}

	device, err := s.devices.AuthenticateDevice(r.Context(), AccessContextFrom(r.Context()), req.DeviceCode, req.Secret)
	if rbac.IsAccessError(err) {
		s.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusUnauthorized, types.ErrCodeInvalidCode, "invalid device credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true, "device": device})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := &types.DeviceFilters{
		HubID:  q.Get("hub_id"),
		Status: types.DeviceStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	}

	list, err := s.devices.ListDevices(r.Context(), AccessContextFrom(r.Context()), filters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": list, "count": len(list)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.devices.GetDevice(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var updates types.DeviceUpdates
	if !s.decode(w, r, &updates) {
		return
	}

	device, err := s.devices.UpdateDevice(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"], &updates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.DeleteDevice(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCollectEvent(w http.ResponseWriter, r *http.Request) {
	var event types.AnalyticsEvent
	if !s.decode(w, r, &event) {
		return
	}

	stored, err := s.analytics.Collect(r.Context(), AccessContextFrom(r.Context()), &event)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stored)
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.analytics.Summary(r.Context(), AccessContextFrom(r.Context()), r.URL.Query().Get("hub_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.analytics.ExportEvents(r.Context(), AccessContextFrom(r.Context()), r.URL.Query().Get("hub_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleHubStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.hubs.Status(r.Context(), AccessContextFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	ac := AccessContextFrom(r.Context())
	if _, err := s.access.EnforceAccess(r.Context(), ac, rbac.ResourceAudit, rbac.ActionView, ""); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filter, err := auditFilterFrom(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.audit.GetAuditLogs(filter))
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	ac := AccessContextFrom(r.Context())
	if _, err := s.access.EnforceAccess(r.Context(), ac, rbac.ResourceAudit, rbac.ActionExport, ""); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filter, err := auditFilterFrom(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page := s.audit.GetAuditLogs(filter)
	s.audit.LogDataExport(r.Context(), ac, rbac.DataTypeAudit, len(page.Logs), true)
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	ac := AccessContextFrom(r.Context())
	if _, err := s.access.EnforceAccess(r.Context(), ac, rbac.ResourceAudit, rbac.ActionView, ""); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.audit.GetComplianceReport(r.URL.Query().Get("hub_id")))
}

func auditFilterFrom(r *http.Request) (rbac.AuditFilter, error) {
	q := r.URL.Query()
	filter := rbac.AuditFilter{
		UserID:   q.Get("user_id"),
		Resource: q.Get("resource"),
		Action:   q.Get("action"),
		HubID:    q.Get("hub_id"),
		Limit:    queryInt(q.Get("limit")),
		Offset:   queryInt(q.Get("offset")),
	}

	var verrs rbac.ValidationErrors
	for _, tf := range []struct {
		name string
		dst  *time.Time
	}{
		{"start_time", &filter.StartTime},
		{"end_time", &filter.EndTime},
	} {
		if v := q.Get(tf.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				verrs.Add(tf.name, "must be an RFC 3339 timestamp")
				continue
			}
			*tf.dst = t
		}
	}
	for _, bf := range []struct {
		name string
		dst  **bool
	}{
		{"sensitive", &filter.SensitiveData},
		{"success", &filter.Success},
	} {
		if v := q.Get(bf.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				verrs.Add(bf.name, "must be true or false")
				continue
			}
			*bf.dst = &b
		}
	}

	if verrs.HasErrors() {
		return filter, verrs
	}
	return filter, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps a service error onto a status and a safe message
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Code: types.ErrCodeInternalError, Message: "internal server error"}

	var (
		accessErr *rbac.AccessError
		verrs     rbac.ValidationErrors
		hubErr    *types.HubError
	)
	switch {
	case errors.As(err, &accessErr):
		detail = errorDetail{Code: types.ErrCodeForbidden, Message: accessErr.Error()}
	case errors.As(err, &verrs):
		detail = errorDetail{Code: types.ErrCodeInvalidInput, Message: verrs.Error(), Details: verrs}
	case errors.As(err, &hubErr) && (status < http.StatusInternalServerError || status == http.StatusServiceUnavailable):
		detail = errorDetail{Code: hubErr.Code, Message: hubErr.Message}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).WithError(err).Error("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	if rbac.IsAccessError(err) {
		return http.StatusForbidden
	}

	var verrs rbac.ValidationErrors
	var verr *rbac.ValidationError
	if errors.As(err, &verrs) || errors.As(err, &verr) {
		return http.StatusBadRequest
	}

	typ, ok := types.ErrorTypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch typ {
	case types.ErrorTypeValidation, types.ErrorTypeCompliance:
		return http.StatusBadRequest
	case types.ErrorTypeAuthorization:
		return http.StatusForbidden
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeConflict:
		return http.StatusConflict
	case types.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case types.ErrorTypeExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
