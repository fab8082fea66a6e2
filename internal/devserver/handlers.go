package devserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/chinmina/opsdesk/internal/audit"
	"github.com/chinmina/opsdesk/internal/resource"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Tokens
	Email string `json:"email"`
	UID   string `json:"uid"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type envelope struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type listResponse struct {
	Data  []Record `json:"data"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
	Total int      `json:"total"`
}

func (s *Server) handleLogin() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}

		entry := audit.Log(r.Context())
		entry.Subject = req.Email

		emailMatch := subtle.ConstantTimeCompare([]byte(req.Email), []byte(s.cfg.LoginEmail))
		passwordMatch := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.LoginPassword))
		if emailMatch&passwordMatch != 1 {
			entry.Error = "invalid credentials"
			writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		tokens, err := s.issuer.Pair(s.uid, s.cfg.LoginEmail)
		if err != nil {
			writeError(w, r, err)
			return
		}

		entry.Authorized = true
		writeJSON(w, http.StatusOK, loginResponse{
			Tokens: tokens,
			Email:  s.cfg.LoginEmail,
			UID:    s.uid,
		})
	})
}

func (s *Server) handleRefresh() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeMessage(w, http.StatusBadRequest, "refreshToken is required")
			return
		}

		claims, err := s.issuer.VerifyRefresh(req.RefreshToken)
		if err != nil {
			audit.Log(r.Context()).Error = err.Error()
			writeMessage(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}

		access, err := s.issuer.Issue(claims.Subject, claims.Email, TokenTypeAccess, s.cfg.AccessTokenTTL())
		if err != nil {
			writeError(w, r, err)
			return
		}

		entry := audit.Log(r.Context())
		entry.Authorized = true
		entry.Subject = claims.Subject

		writeJSON(w, http.StatusOK, Tokens{
			AccessToken:  access,
			RefreshToken: req.RefreshToken,
		})
	})
}

func (s *Server) handleList() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.resource(w, r)
		if !ok {
			return
		}

		page, err := positiveParam(r, "page", 1)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := positiveParam(r, "limit", defaultPageLimit)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		limit = min(limit, maxPageLimit)

		records, total, err := s.store.List(res.Name, page, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, listResponse{
			Data:  records,
			Page:  page,
			Limit: limit,
			Total: total,
		})
	})
}

func (s *Server) handleGet() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.resource(w, r)
		if !ok {
			return
		}

		record, err := s.store.Get(res.Name, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, envelope{Data: record})
	})
}

func (s *Server) handleCreate() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.resource(w, r)
		if !ok {
			return
		}

		fields, ok := decodeFields(w, r)
		if !ok {
			return
		}

		record, err := s.store.Create(res.Name, fields)
		if err != nil {
			writeError(w, r, err)
			return
		}
		audit.Log(r.Context()).RecordID = record["id"].(string)

		writeJSON(w, http.StatusCreated, envelope{
			Message: fmt.Sprintf("%s record created", res.Title),
			Data:    record,
		})
	})
}

func (s *Server) handleUpdate() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.resource(w, r)
		if !ok {
			return
		}

		fields, ok := decodeFields(w, r)
		if !ok {
			return
		}

		record, err := s.store.Update(res.Name, r.PathValue("id"), fields)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, envelope{
			Message: fmt.Sprintf("%s record updated", res.Title),
			Data:    record,
		})
	})
}

func (s *Server) handleDelete() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		res, ok := s.resource(w, r)
		if !ok {
			return
		}

		record, err := s.store.Delete(res.Name, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, envelope{
			Message: fmt.Sprintf("%s record deleted", res.Title),
			Data:    record,
		})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// resource resolves the catalogue entry named in the path, writing a 404 if
// there is none.
func (s *Server) resource(w http.ResponseWriter, r *http.Request) (resource.Resource, bool) {
	name := r.PathValue("resource")

	entry := audit.Log(r.Context())
	entry.Resource = name
	entry.RecordID = r.PathValue("id")

	res, ok := s.catalogue.Lookup(name)
	if !ok || res.Name != name {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", name))
		return resource.Resource{}, false
	}
	return res, true
}

func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeMessage(w, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return fields, true
}

func positiveParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Message: message})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	audit.Log(r.Context()).Error = err.Error()

	switch {
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("record %q not found", r.PathValue("id")))
	case errors.Is(err, ErrUnknownResource):
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", r.PathValue("resource")))
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// drainRequestBody reads and discards the request body so the connection can
// be reused by HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.CopyN(io.Discard, r.Body, requestLimitBytes)
	}
}
