// Package httpapi exposes the coaching service over JSON HTTP. Every
// response uses the {success, error?, data?} envelope.
package httpapi

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kukulabs/kuku-coach/internal/manager"
	"github.com/kukulabs/kuku-coach/internal/store"
)

// User-facing error strings. Clients match on these.
const (
	msgSessionNotFound     = "Session not found"
	msgSessionAlreadyEnded = "Session already ended"
	msgSessionNotActive    = "Session is not active"
	msgInvalidAudio        = "Invalid audio format. Please send audio data."
	msgTranscribeFailed    = "Could not transcribe audio. Please try again."
	msgInternal            = "Internal server error. Please try again later."
)

// maxAudioUpload bounds one uploaded recording.
const maxAudioUpload = 25 << 20 // 25 MiB

type envelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Server binds the manager to the echo router.
type Server struct {
	mgr      *manager.Manager
	audioDir string
}

// New creates the HTTP server layer.
func New(mgr *manager.Manager, audioDir string) *Server {
	return &Server{mgr: mgr, audioDir: audioDir}
}

// Register installs middleware, the error handler and all routes.
func (s *Server) Register(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/api/sessions", s.createSession)
	e.GET("/api/sessions/:id", s.getSession)
	e.POST("/api/sessions/:id/messages", s.postMessage)
	e.GET("/api/sessions/:id/messages", s.getMessages)
	e.POST("/api/sessions/:id/end", s.endSession)
	e.POST("/api/sessions/:id/rating", s.rateSession)
	e.GET("/api/sessions/:id/diagnostics", s.getDiagnostics)
	e.GET("/api/messages/search", s.searchMessages)

	if s.audioDir != "" {
		e.Static("/audio", s.audioDir)
	}
}

// errorHandler is the global fallback: anything that escapes a handler
// is logged and returned as an opaque envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := msgInternal
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if status < http.StatusInternalServerError {
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}
	}
	if status >= http.StatusInternalServerError {
		log.Printf("internal error on %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		msg = msgInternal
	}

	_ = c.JSON(status, envelope{Success: false, Error: msg})
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, envelope{Success: false, Error: msg})
}

// domainFail maps the manager's sentinel errors onto the envelope.
// Protocol-level errors get non-2xx; domain errors get 200 with
// success:false so voice clients can speak them to the user.
func domainFail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, manager.ErrSessionNotFound):
		return fail(c, http.StatusNotFound, msgSessionNotFound)
	case errors.Is(err, manager.ErrSessionAlreadyEnded):
		return fail(c, http.StatusOK, msgSessionAlreadyEnded)
	case errors.Is(err, manager.ErrSessionNotActive):
		return fail(c, http.StatusOK, msgSessionNotActive)
	case errors.Is(err, manager.ErrInvalidAudio):
		return fail(c, http.StatusOK, msgInvalidAudio)
	case errors.Is(err, manager.ErrTranscriptionFailed):
		return fail(c, http.StatusOK, msgTranscribeFailed)
	case errors.Is(err, manager.ErrInvalidRating):
		return fail(c, http.StatusBadRequest, err.Error())
	default:
		return err // falls through to errorHandler as a 500
	}
}

type sessionDTO struct {
	SessionID    string    `json:"sessionId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

func toSessionDTO(rec *store.SessionRecord) sessionDTO {
	return sessionDTO{
		SessionID:    rec.SessionID,
		Status:       rec.Status,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		MessageCount: rec.MessageCount,
	}
}

func (s *Server) createSession(c echo.Context) error {
	rec, err := s.mgr.Create(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, toSessionDTO(rec))
}

func (s *Server) getSession(c echo.Context) error {
	rec, err := s.mgr.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainFail(c, err)
	}
	return ok(c, toSessionDTO(rec))
}

type turnDTO struct {
	Messages                   []store.Message `json:"messages"`
	AwaitingWrapUpConfirmation bool            `json:"awaitingWrapUpConfirmation,omitempty"`
	SessionEnded               bool            `json:"sessionEnded,omitempty"`
	FinalSummary               string          `json:"finalSummary,omitempty"`
}

func (s *Server) postMessage(c echo.Context) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return fail(c, http.StatusOK, msgInvalidAudio)
	}
	if fh.Size > maxAudioUpload {
		return fail(c, http.StatusOK, msgInvalidAudio)
	}

	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, maxAudioUpload))
	if err != nil {
		return err
	}

	reply, err := s.mgr.PostMessage(c.Request().Context(), c.Param("id"),
		fh.Header.Get("Content-Type"), fh.Filename, audio)
	if err != nil {
		return domainFail(c, err)
	}

	dto := turnDTO{
		Messages:                   []store.Message{},
		AwaitingWrapUpConfirmation: reply.AwaitingWrapUpConfirmation,
		SessionEnded:               reply.SessionEnded,
		FinalSummary:               reply.FinalSummary,
	}
	if reply.UserMessage.MessageID != "" {
		dto.Messages = append(dto.Messages, reply.UserMessage)
	}
	if reply.AIMessage.MessageID != "" {
		dto.Messages = append(dto.Messages, reply.AIMessage)
	}
	return ok(c, dto)
}

func (s *Server) getMessages(c echo.Context) error {
	history, err := s.mgr.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainFail(c, err)
	}
	return ok(c, map[string]interface{}{"messages": history})
}

type endDTO struct {
	SessionID    string `json:"sessionId"`
	Summary      string `json:"summary"`
	Duration     int    `json:"duration"`
	MessageCount int    `json:"messageCount"`
}

func (s *Server) endSession(c echo.Context) error {
	res, err := s.mgr.End(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainFail(c, err)
	}
	return ok(c, endDTO{
		SessionID:    res.SessionID,
		Summary:      res.Summary,
		Duration:     res.Duration,
		MessageCount: res.MessageCount,
	})
}

type ratingRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) rateSession(c echo.Context) error {
	var req ratingRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := s.mgr.Rate(c.Request().Context(), c.Param("id"), req.Rating, req.Feedback); err != nil {
		return domainFail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) getDiagnostics(c echo.Context) error {
	diag, err := s.mgr.Diagnostics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainFail(c, err)
	}
	return ok(c, diag)
}

func (s *Server) searchMessages(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return fail(c, http.StatusBadRequest, "Missing query parameter q")
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return fail(c, http.StatusBadRequest, "Invalid limit")
		}
		limit = n
	}

	hits, err := s.mgr.SearchMessages(c.Request().Context(), query, limit)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{"messages": hits})
}
