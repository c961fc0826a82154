package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/rentscout/internal/auth"
	"github.com/ppiankov/rentscout/internal/filter"
	"github.com/ppiankov/rentscout/internal/ingest"
	"github.com/ppiankov/rentscout/internal/photo"
	"github.com/ppiankov/rentscout/internal/telegram"
)

const maxBodyBytes = 1 << 20

type fetchRequest struct {
	Channels []string `json:"channels"`
	Days     *int     `json:"days"`
}

func (h *handlers) fetchMessages(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = h.opts.DefaultChannels
	}
	days := h.opts.DefaultDays
	if req.Days != nil {
		days = *req.Days
	}

	res, err := h.opts.Ingest.FetchAndCache(r.Context(), ingest.FetchRequest{
		Channels: req.Channels,
		Days:     days,
		Trigger:  "api",
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *handlers) messages(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := h.opts.Ingest.Listings(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func parseListQuery(r *http.Request) (ingest.ListQuery, error) {
	v := r.URL.Query()
	var q ingest.ListQuery

	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"min_price", &q.Criteria.MinPrice},
		{"max_price", &q.Criteria.MaxPrice},
	} {
		raw := strings.TrimSpace(v.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, &ingest.ValidationError{Field: p.name, Reason: "must be an integer"}
		}
		if n < 0 {
			return q, &ingest.ValidationError{Field: p.name, Reason: "must not be negative"}
		}
		*p.dst = &n
	}
	q.Criteria.Location = strings.TrimSpace(v.Get("location"))
	q.Criteria.ExcludeAreas = v.Get("exclude_areas")

	order, err := filter.ParseOrder(v.Get("sort_by"))
	if err != nil {
		return q, err
	}
	q.Sort = order

	if raw := v.Get("refresh"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, &ingest.ValidationError{Field: "refresh", Reason: "must be a boolean"}
		}
		q.Refresh = b
	}
	return q, nil
}

func (h *handlers) photo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "message_id"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "message_id must be a positive integer")
		return
	}
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		respondError(w, http.StatusBadRequest, "channel is required")
		return
	}

	ref, err := h.opts.Photos.Get(r.Context(), id, channel)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"photo_url": ref})
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.opts.Ingest.Stats())
}

type channelsResponse struct {
	Channels []string `json:"channels"`
	Source   string   `json:"source"`
}

func (h *handlers) currentChannels(w http.ResponseWriter, _ *http.Request) {
	if chs := h.opts.Ingest.Channels(); len(chs) > 0 {
		respondJSON(w, http.StatusOK, channelsResponse{Channels: chs, Source: "cache"})
		return
	}
	chs := h.opts.DefaultChannels
	if chs == nil {
		chs = []string{}
	}
	respondJSON(w, http.StatusOK, channelsResponse{Channels: chs, Source: "config"})
}

type channelInfoResponse struct {
	Title        string  `json:"title"`
	Username     string  `json:"username"`
	Participants *int    `json:"participants_count"`
	Description  *string `json:"description"`
}

// channelInfo describes the channel named by the query, or the first
// default channel.
func (h *handlers) channelInfo(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" && len(h.opts.DefaultChannels) > 0 {
		channel = h.opts.DefaultChannels[0]
	}
	info, err := h.opts.Ingest.ChannelInfo(r.Context(), channel)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, channelInfoResponse{
		Title:        info.Title,
		Username:     info.Username,
		Participants: info.Participants,
		Description:  info.Description,
	})
}

func (h *handlers) issueQR(w http.ResponseWriter, r *http.Request) {
	ch, err := h.opts.Auth.IssueChallenge(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

func (h *handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.opts.Auth.PollStatus(r.Context())
	if err != nil {
		h.log.Error("auth status", "error", err)
		// The status body carries the failure for the client.
		respondJSON(w, http.StatusInternalServerError, st)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *handlers) qrImage(w http.ResponseWriter, _ *http.Request) {
	png, err := h.opts.Auth.QRCode()
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// fail maps core errors to status codes.
func (h *handlers) fail(w http.ResponseWriter, err error) {
	var unknownOrder *filter.UnknownOrderError
	switch {
	case ingest.IsValidation(err), errors.As(err, &unknownOrder):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotAuthorized), errors.Is(err, telegram.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, photo.ErrMediaNotFound), errors.Is(err, telegram.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
