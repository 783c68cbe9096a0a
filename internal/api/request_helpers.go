package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/task-inbox/internal/api/shared"
	"github.com/phrazzld/task-inbox/internal/domain"
	"github.com/phrazzld/task-inbox/internal/store"
)

// MaxListLimit caps the page size of list endpoints.
const MaxListLimit = 500

func invalidParam(name, reason string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrValidation, name, reason)
}

// pathParam returns a required chi URL parameter.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return "", invalidParam(name, "is required")
	}
	return v, nil
}

// requireAgent returns the authenticated agent ID.
func requireAgent(r *http.Request) (string, error) {
	agentID, ok := shared.GetAgentID(r.Context())
	if !ok {
		return "", ErrMissingAgent
	}
	return agentID, nil
}

func optionalString(q url.Values, name string) *string {
	if !q.Has(name) {
		return nil
	}
	v := q.Get(name)
	return &v
}

func optionalInt(q url.Values, name string) (*int, error) {
	if !q.Has(name) {
		return nil, nil
	}
	n, err := strconv.Atoi(q.Get(name))
	if err != nil {
		return nil, invalidParam(name, "must be an integer")
	}
	return &n, nil
}

// parseStatuses reads a comma-separated or repeated status parameter.
func parseStatuses(q url.Values, name string) ([]domain.TaskStatus, error) {
	var out []domain.TaskStatus
	for _, raw := range q[name] {
		for _, part := range strings.Split(raw, ",") {
			s := domain.TaskStatus(strings.TrimSpace(part))
			if s == "" {
				continue
			}
			if !s.Valid() {
				return nil, invalidParam(name, fmt.Sprintf("has unknown value %q", s))
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// parseListFilter reads the query parameters of GET /tasks.
func parseListFilter(q url.Values) (store.ListFilter, error) {
	var (
		f   store.ListFilter
		err error
	)
	if f.Statuses, err = parseStatuses(q, "status"); err != nil {
		return f, err
	}
	f.Type = optionalString(q, "type")
	f.TargetAgentID = optionalString(q, "target_agent_id")
	f.ClaimedBy = optionalString(q, "claimed_by")
	if f.Priority, err = optionalInt(q, "priority"); err != nil {
		return f, err
	}

	limit, err := optionalInt(q, "limit")
	if err != nil {
		return f, err
	}
	if limit != nil {
		if *limit < 0 || *limit > MaxListLimit {
			return f, invalidParam("limit", fmt.Sprintf("must be between 0 and %d", MaxListLimit))
		}
		f.Limit = *limit
	}
	offset, err := optionalInt(q, "offset")
	if err != nil {
		return f, err
	}
	if offset != nil {
		if *offset < 0 {
			return f, invalidParam("offset", "must not be negative")
		}
		f.Offset = *offset
	}
	return f, nil
}

// parseDeleteFilter reads the query parameters of DELETE /tasks.
func parseDeleteFilter(q url.Values) (store.DeleteFilter, error) {
	var (
		f   store.DeleteFilter
		err error
	)
	if f.Statuses, err = parseStatuses(q, "status"); err != nil {
		return f, err
	}
	if q.Has("older_than") {
		ts, err := time.Parse(time.RFC3339, q.Get("older_than"))
		if err != nil {
			return f, invalidParam("older_than", "must be an RFC 3339 timestamp")
		}
		f.OlderThan = &ts
	}
	return f, nil
}
