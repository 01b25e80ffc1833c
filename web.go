package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"ttpcard/card"
	"ttpcard/crop"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	Addr             string
	MaxUploadBytes   int
	SessionIdle      time.Duration
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	store        *SessionStore
	rasterizer   *crop.Rasterizer
	composer     *card.Composer
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config, composer *card.Composer) *WebApp {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 25 << 20
	}
	if config.SessionIdle <= 0 {
		config.SessionIdle = 30 * time.Minute
	}
	return &WebApp{
		config:     config,
		store:      NewSessionStore(),
		rasterizer: crop.NewRasterizer(),
		composer:   composer,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newFiberApp(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go a.store.RunExpiry(ctx, time.Minute, a.config.SessionIdle)

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *WebApp) newFiberApp(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             a.config.MaxUploadBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code, msg := errorStatus(err)
			event := log.Ctx(c.UserContext()).Warn()
			if code >= http.StatusInternalServerError {
				event = log.Ctx(c.UserContext()).Error()
			}
			event.Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Msg("Request failed")
			if code == http.StatusNotFound && c.Path() == "/favicon.ico" {
				return nil
			}
			return c.Status(code).JSON(fiber.Map{"error": msg})
		},
	})

	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	})

	api := webapp.Group("/api")
	api.Get("/config", a.handleConfig)
	api.Post("/sessions", a.handleCreateSession)
	api.Get("/sessions/:id", a.handleGetSession)
	api.Delete("/sessions/:id", a.handleDeleteSession)
	api.Post("/sessions/:id/events", a.handleEvents)
	api.Post("/sessions/:id/confirm", a.handleConfirm)
	api.Get("/sessions/:id/photo", a.handlePhoto)
	api.Post("/card/preview", a.handleCardPreview)
	api.Post("/card/pdf", a.handleCardPDF)
	api.Post("/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "static",
		}))
	}

	return webapp
}

// errorStatus maps domain errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	case errors.Is(err, crop.ErrSourceUnavailable):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, crop.ErrInvalidRegion):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, crop.ErrRasterizeInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, crop.ErrNoConfirmedCrop):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, card.ErrInvalidFields):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, crop.ErrEncodingUnavailable), errors.Is(err, card.ErrRenderFailed):
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

type sessionState struct {
	ID     string         `json:"id"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Format string         `json:"format,omitempty"`
	View   crop.ViewState `json:"view"`
	Rect   crop.Rect      `json:"rect"`
}

func stateOf(id string, s *crop.Session) sessionState {
	return sessionState{
		ID:     id,
		Width:  s.Source().Width(),
		Height: s.Source().Height(),
		Format: s.Source().Format(),
		View:   s.ViewState(),
		Rect:   s.CropRect(),
	}
}

func (a *WebApp) session(c *fiber.Ctx) (string, *crop.Session, error) {
	id := c.Params("id")
	s, ok := a.store.Get(id)
	if !ok {
		return id, nil, fiber.NewError(http.StatusNotFound, "unknown session")
	}
	return id, s, nil
}

func (a *WebApp) handleConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"zoom": fiber.Map{
			"min":  crop.MinZoom,
			"max":  crop.MaxZoom,
			"step": crop.ZoomStep,
		},
		"aspect": crop.CardPhotoAspect,
		"fields": card.DefaultFields(),
		"card": fiber.Map{
			"widthMM":  card.WidthMM,
			"heightMM": card.HeightMM,
		},
	})
}

func (a *WebApp) handleCreateSession(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "missing image file")
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", crop.ErrSourceUnavailable, err)
	}
	defer f.Close()

	src, err := crop.LoadSource(f)
	if err != nil {
		return err
	}

	id, s := a.store.Create(src)
	log.Ctx(c.UserContext()).Info().
		Str("session", id).
		Str("filename", fh.Filename).
		Int("width", src.Width()).
		Int("height", src.Height()).
		Msg("crop session started")

	return c.Status(http.StatusCreated).JSON(stateOf(id, s))
}

func (a *WebApp) handleGetSession(c *fiber.Ctx) error {
	id, s, err := a.session(c)
	if err != nil {
		return err
	}
	return c.JSON(stateOf(id, s))
}

func (a *WebApp) handleDeleteSession(c *fiber.Ctx) error {
	if !a.store.Delete(c.Params("id")) {
		return fiber.NewError(http.StatusNotFound, "unknown session")
	}
	return c.SendStatus(http.StatusNoContent)
}

func (a *WebApp) handleEvents(c *fiber.Ctx) error {
	id, s, err := a.session(c)
	if err != nil {
		return err
	}

	var request struct {
		Events []Event `json:"events"`
	}
	if err := c.BodyParser(&request); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	for _, ev := range request.Events {
		ev.Apply(s)
	}

	return c.JSON(stateOf(id, s))
}

func (a *WebApp) handleConfirm(c *fiber.Ctx) error {
	id, s, err := a.session(c)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	bmp, err := s.Confirm(ctx, a.rasterizer)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("session", id).
		Stringer("rect", s.CropRect()).
		Msg("crop confirmed")

	return c.JSON(fiber.Map{
		"width":   bmp.Width(),
		"height":  bmp.Height(),
		"mime":    bmp.MIMEType(),
		"dataUri": bmp.DataURI(),
	})
}

func (a *WebApp) handlePhoto(c *fiber.Ctx) error {
	_, s, err := a.session(c)
	if err != nil {
		return err
	}
	bmp, err := s.Result()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, bmp.MIMEType())
	return c.Send(bmp.Data)
}

type cardRequest struct {
	Fields  *card.Fields `json:"fields"`
	Session string       `json:"session"`
}

// renderCard composes the card for a request. The photo is the confirmed
// crop of the named session, or the placeholder when there is none.
func (a *WebApp) renderCard(c *fiber.Ctx) (*cardRenderResult, error) {
	var request cardRequest
	if err := c.BodyParser(&request); err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	fields := card.DefaultFields()
	if request.Fields != nil {
		fields = *request.Fields
	}

	var photo *crop.Bitmap
	if request.Session != "" {
		s, ok := a.store.Get(request.Session)
		if !ok {
			return nil, fiber.NewError(http.StatusNotFound, "unknown session")
		}
		bmp, err := s.Result()
		if err != nil && !errors.Is(err, crop.ErrNoConfirmedCrop) {
			return nil, err
		}
		photo = bmp
	}

	surface, err := renderSurface(a.composer, fields, photo)
	if err != nil {
		return nil, err
	}
	return &cardRenderResult{fields: fields, surface: surface}, nil
}

func (a *WebApp) handleCardPreview(c *fiber.Ctx) error {
	res, err := a.renderCard(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res.surface, imaging.PNG); err != nil {
		return fmt.Errorf("%w: %v", card.ErrRenderFailed, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(buf.Bytes())
}

func (a *WebApp) handleCardPDF(c *fiber.Ctx) error {
	res, err := a.renderCard(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := card.ExportPDF(&buf, res.surface, pdfInfo(res.fields)); err != nil {
		return fmt.Errorf("%w: %v", card.ErrRenderFailed, err)
	}
	log.Ctx(c.UserContext()).Info().Int("bytes", buf.Len()).Msg("card exported")

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Attachment(card.DefaultFileName)
	return c.Send(buf.Bytes())
}
