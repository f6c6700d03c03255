package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/catalog"
	"github.com/MimeLyc/photo-sweeper/internal/config"
	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/internal/persistence"
	"github.com/MimeLyc/photo-sweeper/internal/photostore"
	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/MimeLyc/photo-sweeper/pkg/icron"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"github.com/dustin/go-humanize"
)

// assetView is an asset plus the URL its bytes are served from. Ids are
// library paths, so they travel in URLs as base64url tokens.
type assetView struct {
	media.AssetRef
	ContentURL string `json:"content_url,omitempty"`
}

type photoResponse struct {
	Asset     *assetView         `json:"asset"`
	Progress  traversal.Progress `json:"progress"`
	CanUndo   bool               `json:"can_undo"`
	SessionID string             `json:"session_id"`
}

func (s *Server) photoResponse(asset media.AssetRef, ok bool) photoResponse {
	resp := photoResponse{
		Progress:  s.store.Progress(),
		CanUndo:   s.store.CanUndo(),
		SessionID: s.store.SessionID(),
	}
	if ok {
		resp.Asset = s.assetView(asset)
	}
	return resp
}

func (s *Server) assetView(asset media.AssetRef) *assetView {
	view := &assetView{AssetRef: asset}
	if s.content != nil {
		view.ContentURL = "/api/photos/" + encodeAssetID(asset.ID) + "/content"
	}
	return view
}

func encodeAssetID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeAssetID(token string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.store.Start(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.store.SessionID(),
		"progress":   s.store.Progress(),
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	asset, ok, err := s.store.Current(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.photoResponse(asset, ok))
}

// handleDecision serves POST /api/photos/current/{skip|delete|undo}.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		asset media.AssetRef
		ok    bool
		err   error
	)
	switch action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/photos/current/"), "/"); action {
	case "skip":
		asset, ok, err = s.store.Skip(r.Context())
	case "delete":
		asset, ok, err = s.store.Delete(r.Context())
	case "undo":
		asset, err = s.store.UndoSkip(r.Context())
		ok = err == nil
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.photoResponse(asset, ok))
}

// handleContent serves GET /api/photos/{token}/content.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/photos/")
	token, ok := strings.CutSuffix(rest, "/content")
	if !ok || token == "" || strings.Contains(token, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if s.content == nil {
		writeError(w, http.StatusNotImplemented, "content is not available for this library")
		return
	}
	id, ok := decodeAssetID(token)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset token")
		return
	}

	rc, err := s.content.OpenAsset(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrNotFound):
			writeError(w, http.StatusNotFound, "asset not found")
		case errors.Is(err, media.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	defer rc.Close()

	name := filepath.Base(id)
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, rs)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.Debug("Content copy for %s ended early: %v", id, err)
	}
}

type filterRequest struct {
	Mode traversal.Mode `json:"mode"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, filterRequest{Mode: s.store.Manager().Mode()})
	case http.MethodPut:
		var req filterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
			return
		}
		s.store.SetMode(req.Mode)
		writeJSON(w, http.StatusOK, filterRequest{Mode: s.store.Manager().Mode()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Progress())
}

type statsResponse struct {
	Totals       persistence.Totals         `json:"totals"`
	DeletedHuman string                     `json:"deleted_human"`
	Session      *persistence.SessionStats  `json:"session,omitempty"`
	SessionHuman string                     `json:"session_deleted_human,omitempty"`
	Recent       []persistence.SessionStats `json:"recent"`
}

// recentSessions is how many past sessions /api/stats lists.
const recentSessions = 5

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "statistics are not configured")
		return
	}

	totals, err := s.stats.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statsResponse{
		Totals:       totals,
		DeletedHuman: humanize.Bytes(uint64(max(totals.DeletedBytes, 0))),
	}
	if id := s.store.SessionID(); id != "" {
		session, ok, err := s.stats.Session(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			resp.Session = &session
			resp.SessionHuman = humanize.Bytes(uint64(max(session.DeletedBytes, 0)))
		}
	}
	resp.Recent, err = s.stats.RecentSessions(r.Context(), recentSessions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type indexStatus struct {
	Last     *catalog.IndexResult `json:"last,omitempty"`
	LastAgo  string               `json:"last_ago,omitempty"`
	Schedule *icron.TriggerInfo   `json:"schedule,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeError(w, http.StatusNotImplemented, "library is not backed by a catalog")
		return
	}

	switch r.Method {
	case http.MethodGet:
		var status indexStatus
		if last, ok := s.indexer.LastResult(); ok {
			status.Last = &last
			status.LastAgo = humanize.RelTime(last.Finished, s.now(), "ago", "from now")
		}
		if s.settings != nil {
			settings, err := s.settings.GetRuntimeSettings()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			info, err := icron.GetTriggerInfo(settings.IndexCron, s.now())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Schedule = info
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodPost:
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.indexer.Run(ctx); err != nil {
				log.Error("Requested index failed: %v", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeStoreError maps typed store failures onto status codes and passes
// the advice along.
func writeStoreError(w http.ResponseWriter, err error) {
	var storeErr *photostore.Error
	if !errors.As(err, &storeErr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch storeErr.Type {
	case photostore.ErrPermission:
		status = http.StatusForbidden
	case photostore.ErrNoCurrent, photostore.ErrNothingToUndo:
		status = http.StatusConflict
	case photostore.ErrDelete:
		if errors.Is(err, media.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
	}
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"type":   storeErr.Type.String(),
		"advice": storeErr.Type.Advice(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
