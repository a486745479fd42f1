package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

// publishRequest is the body of POST /publish. Sibling services use this
// surface to push dispatches at connected clients.
type publishRequest struct {
	Scope   publishScope    `json:"scope"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type publishScope struct {
	Kind string       `json:"kind"`
	ID   snowflake.ID `json:"id"`
}

type publishResponse struct {
	Recipients int `json:"recipients"`
}

func parseScope(ps publishScope) (registry.Scope, error) {
	switch ps.Kind {
	case "user":
		return registry.UserScope(ps.ID), nil
	case "role":
		return registry.RoleScope(ps.ID), nil
	case "guild":
		return registry.GuildScope(ps.ID), nil
	default:
		return registry.Scope{}, fmt.Errorf("unknown scope kind %q", ps.Kind)
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	scope, err := parseScope(req.Scope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dt := protocol.DispatchType(req.Type)
	if !dt.IsValid() {
		http.Error(w, fmt.Sprintf("unknown dispatch type %q", req.Type), http.StatusBadRequest)
		return
	}

	d := protocol.Dispatch{Type: dt, Payload: req.Payload}
	n := s.bus.Publish(r.Context(), scope, d)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(publishResponse{Recipients: n})
}

func urlSnowflake(r *http.Request, key string) (snowflake.ID, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return snowflake.ID(id), nil
}

// handleRoleMemberPut adds a user to the in-memory role index so role and
// guild scoped publishes reach them immediately. Persistence stays with
// the service that owns the membership data.
func (s *Server) handleRoleMemberPut(w http.ResponseWriter, r *http.Request) {
	s.updateRoleMember(w, r, true)
}

func (s *Server) handleRoleMemberDelete(w http.ResponseWriter, r *http.Request) {
	s.updateRoleMember(w, r, false)
}

func (s *Server) updateRoleMember(w http.ResponseWriter, r *http.Request, added bool) {
	roleID, err := urlSnowflake(r, "roleID")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, err := urlSnowflake(r, "userID")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.reg.UpdateRoleMembership(roleID, userID, added)
	w.WriteHeader(http.StatusNoContent)
}
