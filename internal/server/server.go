// Package server exposes container inspection and ROM resolution over HTTP
// for a directory of PSF files.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/spf13/afero"

	"github.com/samcharles93/psf2rom/internal/logger"
	"github.com/samcharles93/psf2rom/internal/psflib"
	"github.com/samcharles93/psf2rom/internal/report"
	"github.com/samcharles93/psf2rom/internal/version"
	"github.com/samcharles93/psf2rom/pkg/psf"
)

const (
	headerRequestID = "X-Request-Id"
	headerLoads     = "X-PSF-Loads"
	mimeOctetStream = "application/octet-stream"
)

// Config holds the server settings.
type Config struct {
	Address     string
	ReadTimeout time.Duration

	// MaxNestLevel and MaxImageSize override the resolver defaults when set.
	MaxNestLevel int
	MaxImageSize uint64
}

type Server struct {
	fs       afero.Fs
	resolver *psflib.Resolver
	log      logger.Logger
}

// New serves the PSF files below root. Requests cannot reach outside root.
func New(root string, cfg Config, log logger.Logger) *Server {
	return NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), root), cfg, log)
}

// NewWithFs serves the PSF files of fsys, addressed from its root.
func NewWithFs(fsys afero.Fs, cfg Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		fs: fsys,
		resolver: &psflib.Resolver{
			FS:           fsys,
			Dir:          string(filepath.Separator),
			MaxNestLevel: cfg.MaxNestLevel,
			MaxImageSize: cfg.MaxImageSize,
		},
		log: log,
	}
}

// Register adds the routes to e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/psf", s.handleInspect)
	e.GET("/v1/rom", s.handleROM)
}

// Echo builds a ready to serve echo instance.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(s.requestContext)
	s.Register(e)
	return e
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, cfg Config) error {
	s.log.Info("starting server", "address", cfg.Address)
	sc := echo.StartConfig{
		Address: cfg.Address,
		BeforeServeFunc: func(srv *http.Server) error {
			if cfg.ReadTimeout > 0 {
				srv.ReadHeaderTimeout = cfg.ReadTimeout
			}
			return nil
		},
	}
	return sc.Start(ctx, s.Echo())
}

func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		h := c.Response().Header()
		h.Set(headerRequestID, id)
		h.Set("Server", version.UserAgent())

		start := time.Now()
		err := next(c)
		s.log.Debug("request",
			"request_id", id,
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"elapsed", time.Since(start),
		)
		return err
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInspect(c *echo.Context) error {
	path, ok := requestPath(c)
	if !ok {
		return writeBadRequest(c, "query parameter path is required")
	}

	container, err := psf.OpenFs(s.fs, path)
	if err != nil {
		return s.writeFailure(c, path, err)
	}
	summary := report.FromContainer(path, container)
	if c.QueryParam("program") == "true" {
		if err := summary.AddProgram(container, nil); err != nil {
			return s.writeFailure(c, path, err)
		}
	}

	data, err := summary.JSON()
	if err != nil {
		return s.writeFailure(c, path, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func (s *Server) handleROM(c *echo.Context) error {
	path, ok := requestPath(c)
	if !ok {
		return writeBadRequest(c, "query parameter path is required")
	}

	img, err := s.resolver.Resolve(path)
	if err != nil {
		return s.writeFailure(c, path, err)
	}
	c.Response().Header().Set(headerLoads, strconv.Itoa(len(img.Loads)))
	return c.Blob(http.StatusOK, mimeOctetStream, img.ROM)
}

// requestPath returns the requested file as an absolute path inside the
// served filesystem.
func requestPath(c *echo.Context) (string, bool) {
	p := strings.TrimSpace(c.QueryParam("path"))
	if p == "" {
		return "", false
	}
	return filepath.Join(string(filepath.Separator), filepath.FromSlash(p)), true
}

func (s *Server) writeFailure(c *echo.Context, path string, err error) error {
	status, errType := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", path, "error", err)
	} else {
		s.log.Debug("request rejected", "path", path, "error", err)
	}
	return writeError(c, status, errType, err.Error())
}

func classify(err error) (int, string) {
	var (
		fe *psf.FormatError
		re *psflib.ResolutionError
	)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden, "permission_error"
	case errors.As(err, &fe), errors.As(err, &re), errors.Is(err, psf.ErrCodec):
		return http.StatusUnprocessableEntity, "invalid_psf_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": errorBody{Message: msg, Type: errType},
	})
}
