package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sketchpad/canvas"
	"sketchpad/catalog"
	"sketchpad/confirm"
	"sketchpad/core"
	"sketchpad/handlers/api/confirmations"
	"sketchpad/handlers/api/drawings"
	"sketchpad/handlers/api/preferences"
	"sketchpad/handlers/api/sessions"
	"sketchpad/handlers/websocket"
	"sketchpad/stores"
	"sketchpad/stores/local"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type app struct {
	catalog     *catalog.Catalog
	broker      *confirm.Broker
	manager     *canvas.Manager
	preferences *local.Preferences
	width       int
	height      int
}

// allowedOrigins parses CORS_ALLOWED_ORIGINS, a comma separated list.
func allowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func originAllowed(origin string, extra []string) bool {
	if origin == "" {
		return false
	}
	for _, o := range extra {
		if o == origin {
			return true
		}
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

func setupRouter(a *app, extraOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return originAllowed(origin, extraOrigins)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/drawings", func(r chi.Router) {
		r.Get("/", drawings.HandleList(a.catalog))
		r.Post("/", drawings.HandleCreate(a.catalog))
		r.Delete("/", drawings.HandleDeleteAll(a.catalog, a.broker))
		r.Post("/blank", drawings.HandleCreateBlank(a.catalog, a.width, a.height))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", drawings.HandleGet(a.catalog))
			r.Put("/", drawings.HandleUpdate(a.catalog))
			r.Delete("/", drawings.HandleDelete(a.catalog, a.broker))
			r.Get("/image.png", drawings.HandleImage(a.catalog))
			r.Get("/thumbnail.png", drawings.HandleThumbnail(a.catalog))
		})
	})

	r.Route("/api/catalog", func(r chi.Router) {
		r.Get("/", drawings.HandleCatalogState(a.catalog))
		r.Delete("/error", drawings.HandleClearError(a.catalog))
		r.Post("/reload", drawings.HandleReload(a.catalog))
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", sessions.HandleOpen(a.manager))
		r.Route("/{sid}", func(r chi.Router) {
			r.Get("/", sessions.HandleGet(a.manager))
			r.Delete("/", sessions.HandleClose(a.manager))
			r.Get("/bitmap.png", sessions.HandleBitmap(a.manager))
			r.Put("/tool", sessions.HandleSetTool(a.manager))
			r.Put("/name", sessions.HandleSetName(a.manager))
			r.Post("/pointer", sessions.HandlePointer(a.manager))
			r.Post("/text", sessions.HandleCommitText(a.manager))
			r.Delete("/text", sessions.HandleCancelText(a.manager))
			r.Post("/image", sessions.HandlePlaceImage(a.manager))
			r.Post("/undo", sessions.HandleUndo(a.manager))
			r.Post("/redo", sessions.HandleRedo(a.manager))
			r.Post("/clear", sessions.HandleClear(a.manager))
			r.Post("/save", sessions.HandleSave(a.manager))
		})
	})

	r.Route("/api/confirmations", func(r chi.Router) {
		r.Get("/", confirmations.HandleList(a.broker))
		r.Post("/{id}", confirmations.HandleResolve(a.broker))
	})

	r.Route("/api/preferences/theme", func(r chi.Router) {
		r.Get("/", preferences.HandleGetTheme(a.preferences))
		r.Put("/", preferences.HandleSetTheme(a.preferences))
		r.Post("/toggle", preferences.HandleToggleTheme(a.preferences))
	})

	return r
}

type (
	httpShutdowner interface {
		Shutdown(ctx context.Context) error
	}

	sessionCloser interface {
		CloseAll(ctx context.Context)
	}
)

// shutdown stops accepting requests before the open sessions get their final
// save, so no session can be opened after CloseAll.
func shutdown(ctx context.Context, server httpShutdowner, closeSockets func(), sessions sessionCloser) {
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	closeSockets()
	sessions.CloseAll(ctx)
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, manager *canvas.Manager) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdown(ctx, server, func() { ioo.Close(nil) }, manager)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	autosave := flag.Duration("autosave", 30*time.Second, "Autosave interval for open sessions, 0 disables")
	width := flag.Int("width", canvas.DefaultWidth, "Width of new canvases")
	height := flag.Int("height", canvas.DefaultHeight, "Height of new canvases")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if err := canvas.CheckDimensions(*width, *height); err != nil {
		logrus.WithError(err).Fatal("Invalid canvas size")
	}

	kv := stores.GetStore()
	cat := catalog.New(local.NewDrawings(kv))
	if err := cat.Load(context.Background()); err != nil {
		logrus.WithError(err).Warn("Starting with an empty gallery")
	}
	broker := confirm.NewBroker()
	manager := canvas.NewManager(cat, broker, *autosave, *width, *height)

	a := &app{
		catalog:     cat,
		broker:      broker,
		manager:     manager,
		preferences: local.NewPreferences(kv, core.ThemeLight),
		width:       *width,
		height:      *height,
	}

	origins := allowedOrigins()
	r := setupRouter(a, origins)
	ioo := websocket.SetupSocketIO(websocket.NewEditor(manager, broker), origins)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithFields(logrus.Fields{
		"addr":     *listenAddr,
		"drawings": cat.Count(),
		"autosave": autosave.String(),
	}).Info("starting server")
	server := &http.Server{Addr: *listenAddr, Handler: r}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(server, ioo, manager)
}
