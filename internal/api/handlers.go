// Package api exposes HTTP handlers for the challenge engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/challenge/internal/auth"
	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/challenges", h.challenges)
	mux.HandleFunc("/v1/challenges/", h.challengeByID)
	mux.HandleFunc("/v1/certifications", h.certifications)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.recordActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/standing"); ok {
		h.activityStanding(w, r, id)
		return
	}
	h.getActivity(w, r, rest)
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	payload, err := domain.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.RecordActivity(r.Context(), claims.Subject, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) activityStanding(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	if _, err := h.service.GetActivity(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	certified, err := h.service.IsCertified(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	open, err := h.service.HasOpenChallenge(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivityStandingResponse{
		ActivityID:    id,
		Certified:     certified,
		OpenChallenge: open,
	})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.Subject
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivitiesByUser(r.Context(), userID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) challenges(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createChallenge(w, r)
	case http.MethodGet:
		h.listChallenges(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) challengeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/challenges/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing challenge id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeChallengesRead, auth.ScopeChallengesWrite); !ok {
		return
	}

	challenge, err := h.service.GetChallenge(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(*challenge))
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesWrite)
	if !ok {
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	challenge, err := h.service.CreateChallenge(r.Context(), claims.Subject, req.ActivityID, req.ExpiresAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChallengeView(*challenge))
}

func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesRead, auth.ScopeChallengesWrite)
	if !ok {
		return
	}

	role := domain.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = domain.RoleChallenged
	}
	filter := domain.StatusFilter(r.URL.Query().Get("status"))
	if filter == "" {
		filter = domain.FilterBoth
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	challenges, err := h.service.ListChallenges(r.Context(), claims.Subject, role, filter, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ChallengeView, 0, len(challenges))
	for _, challenge := range challenges {
		items = append(items, toChallengeView(challenge))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{Items: items})
}

func (h *Handler) certifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeCertificationsWrite)
	if !ok {
		return
	}

	var req CertifyActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	cert, err := h.service.CertifyActivity(r.Context(), claims.Subject, req.ActivityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCertificationView(*cert))
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

// RecordActivityRequest is the payload for POST /v1/activities.
type RecordActivityRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Validate ensures request correctness.
func (r RecordActivityRequest) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("kind is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

// CreateChallengeRequest is the payload for POST /v1/challenges.
type CreateChallengeRequest struct {
	ActivityID string     `json:"activity_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Validate ensures request correctness.
func (r CreateChallengeRequest) Validate() error {
	if strings.TrimSpace(r.ActivityID) == "" {
		return errors.New("activity_id is required")
	}
	if r.ExpiresAt != nil && r.ExpiresAt.IsZero() {
		return errors.New("expires_at must be a valid timestamp")
	}
	return nil
}

// CertifyActivityRequest is the payload for POST /v1/certifications.
type CertifyActivityRequest struct {
	ActivityID string `json:"activity_id"`
}

// Validate ensures request correctness.
func (r CertifyActivityRequest) Validate() error {
	if strings.TrimSpace(r.ActivityID) == "" {
		return errors.New("activity_id is required")
	}
	return nil
}

// ActivityView exposes a ledger entry.
type ActivityView struct {
	ActivityID string         `json:"activity_id"`
	UserID     string         `json:"user_id"`
	Kind       string         `json:"kind"`
	Payload    domain.Payload `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActivityStandingResponse reports an activity's dispute standing.
type ActivityStandingResponse struct {
	ActivityID    string `json:"activity_id"`
	Certified     bool   `json:"certified"`
	OpenChallenge bool   `json:"open_challenge"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ChallengeView exposes full details about a challenge.
type ChallengeView struct {
	ChallengeID          string     `json:"challenge_id"`
	ChallengedUserID     string     `json:"challenged_user_id"`
	ChallengerUserID     string     `json:"challenger_user_id"`
	ChallengedActivityID string     `json:"challenged_activity_id"`
	ResolvingActivityID  *string    `json:"resolving_activity_id,omitempty"`
	Status               string     `json:"status"`
	ExpiresAt            time.Time  `json:"expires_at"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
	ResolutionReason     *string    `json:"resolution_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// ListChallengesResponse packages list results.
type ListChallengesResponse struct {
	Items []ChallengeView `json:"items"`
}

// CertificationView exposes an attestation.
type CertificationView struct {
	CertificationID string    `json:"certification_id"`
	ActivityID      string    `json:"activity_id"`
	CertifierID     string    `json:"certifier_id"`
	CertifiedAt     time.Time `json:"certified_at"`
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		ActivityID: activity.ID,
		UserID:     activity.UserID,
		Kind:       activity.Kind,
		Payload:    activity.Payload,
		CreatedAt:  activity.CreatedAt,
	}
}

func toChallengeView(challenge domain.Challenge) ChallengeView {
	view := ChallengeView{
		ChallengeID:          challenge.ID,
		ChallengedUserID:     challenge.ChallengedUserID,
		ChallengerUserID:     challenge.ChallengerUserID,
		ChallengedActivityID: challenge.ChallengedActivityID,
		ResolvingActivityID:  challenge.ResolvingActivityID,
		Status:               string(challenge.Status),
		ExpiresAt:            challenge.ExpiresAt,
		ClosedAt:             challenge.ClosedAt,
		CreatedAt:            challenge.CreatedAt,
	}
	if challenge.ResolutionReason != nil {
		reason := string(*challenge.ResolutionReason)
		view.ResolutionReason = &reason
	}
	return view
}

func toCertificationView(cert domain.Certification) CertificationView {
	return CertificationView{
		CertificationID: cert.ID,
		ActivityID:      cert.ActivityID,
		CertifierID:     cert.CertifierID,
		CertifiedAt:     cert.CertifiedAt,
	}
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses:
// validation 400, not-found 404, conflict 409.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
