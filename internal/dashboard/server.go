// Package dashboard serves the live web dashboard: connection status, QR
// image, pairing code, and session controls.
package dashboard

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dansdan/dansbot/internal/pairing"
	"github.com/dansdan/dansbot/internal/status"
)

// SessionController is the slice of the supervisor the dashboard drives.
type SessionController interface {
	StartSession(ctx context.Context, sessionID, phone string) error
	StopSession(ctx context.Context, sessionID string)
	Status(sessionID string) status.Snapshot
	Artifacts(sessionID string) pairing.Artifacts
}

const pageTemplate = `<html>
  <head>
    <title>DansBot Dashboard</title>
    <style>
      body { font-family: Arial, sans-serif; text-align: center; padding: 40px; background: #fafafa; }
      h1 { color: #222; }
      h2 { color: {{.Color}}; }
      .card { background: white; border-radius: 12px; padding: 20px; margin: 20px auto; max-width: 450px; box-shadow: 0 2px 6px rgba(0,0,0,0.1); }
      .pairing { font-size: 22px; color: green; font-weight: bold; }
      .error { color: red; }
      input, button { padding: 8px; font-size: 14px; }
      button { background: #007bff; color: white; border: none; border-radius: 6px; cursor: pointer; }
      button:hover { background: #0056b3; }
    </style>
  </head>
  <body>
    <h1>DansBot WhatsApp Dashboard</h1>
    <div class="card">
      <h2>Status: {{.Emoji}} {{.Connection}}</h2>
      <p>Last update: {{.LastUpdate}}</p>
      {{if .LastError}}<p class="error">{{.LastError}}</p>{{end}}
    </div>

    <div class="card">
      <h3>Pairing Code</h3>
      <p class="pairing">{{if .PairingCode}}{{.PairingCode}}{{else}}⌛ Waiting for code...{{end}}</p>
    </div>

    <div class="card">
      <h3>QR Code Login</h3>
      {{if .HasQR}}<img src="/qr.png" width="250" style="border:1px solid #ccc; border-radius:8px;">{{else}}<p>No QR challenge pending.</p>{{end}}
    </div>

    <div class="card">
      <h3>Generate Pairing Code</h3>
      <form method="POST" action="/generate">
        <input type="text" name="phone" placeholder="e.g. 254712345678" required>
        <button type="submit">Generate</button>
      </form>
      <form method="POST" action="/start"><button type="submit">Start</button></form>
      <form method="POST" action="/stop"><button type="submit">Stop</button></form>
    </div>
  </body>
</html>
`

// Server wraps the gin engine and the listening socket.
type Server struct {
	sessionID string
	ctrl      SessionController
	log       *slog.Logger
	engine    *gin.Engine
	httpSrv   *http.Server
}

func NewServer(sessionID string, ctrl SessionController, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.SetHTMLTemplate(template.Must(template.New("dashboard").Parse(pageTemplate)))

	s := &Server{sessionID: sessionID, ctrl: ctrl, log: log, engine: engine}

	engine.GET("/", s.handleIndex)
	engine.GET("/status", s.handleStatus)
	engine.GET("/qr.png", s.handleQR)
	engine.GET("/pairing", s.handlePairing)
	engine.POST("/generate", s.handleGenerate)
	engine.POST("/start", s.handleStart)
	engine.POST("/stop", s.handleStop)
	engine.GET("/health", s.handleHealth)

	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until Shutdown is called or the listener fails.
func (s *Server) Run(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("dashboard listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	snap := s.ctrl.Status(s.sessionID)
	art := s.ctrl.Artifacts(s.sessionID)
	c.HTML(http.StatusOK, "dashboard", gin.H{
		"Connection":  strings.ToUpper(snap.Connection.String()),
		"Emoji":       snap.Emoji,
		"Color":       snap.Color,
		"LastUpdate":  snap.LastUpdate.Format("2006-01-02 15:04:05 MST"),
		"LastError":   snap.LastError,
		"PairingCode": art.PairingCode,
		"HasQR":       art.HasQR,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status(s.sessionID))
}

func (s *Server) handleQR(c *gin.Context) {
	art := s.ctrl.Artifacts(s.sessionID)
	if !art.HasQR {
		c.JSON(http.StatusNotFound, gin.H{"error": "no QR challenge pending"})
		return
	}
	c.Data(http.StatusOK, "image/png", art.QR)
}

func (s *Server) handlePairing(c *gin.Context) {
	art := s.ctrl.Artifacts(s.sessionID)
	c.JSON(http.StatusOK, gin.H{"code": art.PairingCode})
}

func (s *Server) handleGenerate(c *gin.Context) {
	phone := strings.TrimSpace(c.PostForm("phone"))
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone number is required"})
		return
	}
	if err := s.ctrl.StartSession(c.Request.Context(), s.sessionID, phone); err != nil {
		s.log.Error("pairing start failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.ctrl.StartSession(c.Request.Context(), s.sessionID, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "starting"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.ctrl.StopSession(c.Request.Context(), s.sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
