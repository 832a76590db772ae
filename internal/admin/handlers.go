package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dukepan/muclumbus/internal/auth"
	"github.com/dukepan/muclumbus/internal/contextkey"
	"github.com/dukepan/muclumbus/internal/search"
)

// LoginRequest is the seeded-admin credential pair.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued session token.
type LoginResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the uniform error body, matching the teacher's shape.
type ErrorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Message: message})
}

// HealthzHandler reports process liveness.
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// LoginHandler authenticates the single seeded admin account and mints a
// JWT, replacing the teacher's per-user signup/login pair (there is no
// admin signup: accounts are seeded via config.Secrets).
func (r *Router) LoginHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var lr LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&lr); err != nil {
		r.logf(ctx, "failed to decode login request: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if lr.Username == "" || lr.Username != r.creds.Username || !auth.VerifyPassword(r.creds.PasswordHash, lr.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := r.jwtMgr.GenerateToken(lr.Username, r.tokenTTL)
	if err != nil {
		r.logf(ctx, "failed to generate token: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

// AuthMiddleware validates the session JWT and stashes the admin username
// on the request context, mirroring the teacher's AuthMiddleware.
func (r *Router) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tokenString := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization token required")
			return
		}

		claims, err := r.jwtMgr.ValidateToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}

		ctx := context.WithValue(req.Context(), contextkey.ContextKeyUserID, claims.Username)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// DelistDomainRequest carries the delist/relist toggle for the domain
// named in the URL path.
type DelistDomainRequest struct {
	Delisted bool `json:"delisted"`
}

// DelistDomainHandler toggles a domain's delisted flag, excluding (or
// re-including) it from scanning and expiry, grounded on
// original_source/muchopper/common/state.py's delisted-aware queries and
// spec.md §4.1's invariant that delisted domains are never swept.
func (r *Router) DelistDomainHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	domain := req.PathValue("domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	dr := DelistDomainRequest{Delisted: true}
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&dr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := r.store.Delist(ctx, domain, dr.Delisted); err != nil {
		r.logf(ctx, "failed to delist domain %s: %v", domain, err)
		writeError(w, http.StatusInternalServerError, "failed to update domain")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PrivilegedEntityRequest names an address to grant or revoke privileged
// status, the addresses whose invites bypass the min_users heuristic
// (spec.md §6).
type PrivilegedEntityRequest struct {
	Address string `json:"address"`
	Revoke  bool   `json:"revoke"`
}

// PrivilegedEntitiesHandler lists (GET) or mutates (POST) the
// privileged-entities registry shared with the InteractionHandler.
func (r *Router) PrivilegedEntitiesHandler(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.privileged.List())
	case http.MethodPost:
		var pr PrivilegedEntityRequest
		if err := json.NewDecoder(req.Body).Decode(&pr); err != nil || pr.Address == "" {
			writeError(w, http.StatusBadRequest, "address is required")
			return
		}
		if pr.Revoke {
			r.privileged.Remove(pr.Address)
		} else {
			r.privileged.Add(pr.Address)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// SearchHandler exposes spec.md §4.10's search service over HTTP for
// operator dashboards, reusing internal/search.Service directly rather
// than duplicating its validation.
func (r *Router) SearchHandler(w http.ResponseWriter, req *http.Request) {
	if r.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	var sreq search.Request
	if req.Method == http.MethodPost {
		if err := json.NewDecoder(req.Body).Decode(&sreq); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	resp, err := r.search.Search(req.Context(), sreq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (r *Router) logf(ctx context.Context, format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Error(ctx, fmt.Sprintf(format, args...))
	}
}
