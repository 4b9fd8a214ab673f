package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/model"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	token, err := s.auth.issue(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"vault_id": s.vault.ID(),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.vault.ListFiles()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if files == nil {
		files = []model.FileInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.vault.Locks()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks})
}

// handleUpload accepts a multipart form with one "file" part; the part's
// filename is the resource name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	maxBytes := s.cfg.Limits.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing multipart part: file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
		return
	}

	rev, err := s.vault.Upload(header.Filename, id.Username, content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"revision": rev})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	rec, err := s.vault.Checkout(chi.URLParam(r, "name"), id.Username, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lock": rec})
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if err := s.vault.Checkin(chi.URLParam(r, "name"), id.Username, id.Privileged()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxUploadBytes+1024)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "content too large"})
		return
	}

	rev, err := s.vault.Update(chi.URLParam(r, "name"), id.Username, content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if err := s.vault.Delete(chi.URLParam(r, "name"), id.Username, id.Privileged()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFileHistory(w http.ResponseWriter, r *http.Request) {
	revs, err := s.vault.History(chi.URLParam(r, "name"), parseLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func (s *Server) handleVaultHistory(w http.ResponseWriter, r *http.Request) {
	revs, err := s.vault.VaultHistory(parseLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "both from and to revision ids are required"})
		return
	}

	text, err := s.vault.Diff(chi.URLParam(r, "name"),
		model.RevisionID(from), model.RevisionID(to))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"diff": text})
}

func (s *Server) handleBlame(w http.ResponseWriter, r *http.Request) {
	lines, err := s.vault.Blame(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// handleContent serves the raw bytes of a managed file at a revision
// (default: head).
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	rev := model.RevisionID(r.URL.Query().Get("rev"))
	if rev == "" {
		head, err := s.vault.Head()
		if err != nil {
			s.writeError(w, err)
			return
		}
		rev = head
	}

	data, err := s.vault.ReadAt(chi.URLParam(r, "name"), rev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.Privileged() {
		s.writeError(w, errclass.ErrNotAuthorized.WithMessage("audit log requires the admin role"))
		return
	}
	records, err := s.vault.AuditRecords()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func parseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
