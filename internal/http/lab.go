package httpapi

import (
	"errors"
	"io"
	"net/http"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
)

// maxCommandBytes bounds POST /api/command bodies.
const maxCommandBytes = 4 << 10

type errorResponse struct {
	Error string `json:"error"`
}

// StateHandler serves the current simulation state.
func (h *HandlerSet) StateHandler() http.HandlerFunc {
	return h.labQuery(func(l LabAPI) any { return l.State() })
}

// ReadoutHandler serves the latest readout record.
func (h *HandlerSet) ReadoutHandler() http.HandlerFunc {
	return h.labQuery(func(l LabAPI) any { return l.Readout() })
}

// DrawableHandler serves the renderable scene for thin clients.
func (h *HandlerSet) DrawableHandler() http.HandlerFunc {
	return h.labQuery(func(l LabAPI) any { return l.Drawable() })
}

// ChallengeHandler serves the challenge snapshot.
func (h *HandlerSet) ChallengeHandler() http.HandlerFunc {
	return h.labQuery(func(l LabAPI) any { return l.Challenge() })
}

func (h *HandlerSet) labQuery(read func(LabAPI) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.lab == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "lab unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, read(h.lab))
	}
}

// CommandHandler decodes one JSON command, applies it and returns the resulting snapshot.
func (h *HandlerSet) CommandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.lab == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "lab unavailable"})
			return
		}
		//1.- Cap the body so a misbehaving client cannot stream unbounded input.
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
			return
		}
		if len(raw) > maxCommandBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "command too large"})
			return
		}
		cmd, err := lab.DecodeCommand(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		//2.- Apply and translate lab errors into HTTP semantics.
		snapshot, err := h.lab.Apply(cmd)
		if err != nil {
			status := StatusForError(err)
			logging.LoggerFromContext(r.Context()).Debug("command rejected",
				logging.String("command", cmd.Name),
				logging.Int("status", status),
				logging.Error(err),
			)
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// StatusForError maps lab errors onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lab.ErrUnknownCommand), errors.Is(err, lab.ErrInvalidCommand), errors.Is(err, simulation.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, simulation.ErrAlreadyLaunched), errors.Is(err, simulation.ErrNotLaunched), errors.Is(err, challenge.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, lab.ErrClosed), errors.Is(err, simulation.ErrDisposed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
