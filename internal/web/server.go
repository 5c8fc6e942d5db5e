package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/noahxzhu/alarm-notify/internal/coordinator"
	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

//go:embed templates/*
var templateFS embed.FS

const sessionTTL = 24 * time.Hour

// Coordinator is the command surface the server drives.
type Coordinator interface {
	Schedule(ctx context.Context, req coordinator.ScheduleRequest) (string, error)
	Stop(ctx context.Context, ident string, kind model.Kind) error
	Snooze(ctx context.Context, ident string, minutes int, kind model.Kind) error
	Edit(ctx context.Context, ident string, ch coordinator.Changes, kind model.Kind) error
	Reschedule(ctx context.Context, ident string, ch coordinator.Changes, kind model.Kind) error
	Delete(ctx context.Context, ident string, kind model.Kind) error
	StopAll(ctx context.Context, kind model.Kind) (int, error)
	DeleteAll(ctx context.Context, kind model.Kind) (int, error)
	Status(kind model.Kind) coordinator.Summary
	List() []model.Item
	Get(id string) (model.Item, bool)
}

type Options struct {
	// Password protects every route but /login. Empty disables login.
	Password string
	// LoginRate is the sustained number of login attempts per second.
	LoginRate float64
	Location  *time.Location
}

type Server struct {
	coord    Coordinator
	router   *http.ServeMux
	password string
	loc      *time.Location
	log      logx.Logger
	limiter  *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewServer(coord Coordinator, opts Options, log logx.Logger) *Server {
	if opts.LoginRate <= 0 {
		opts.LoginRate = 0.2
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		coord:    coord,
		router:   http.NewServeMux(),
		password: opts.Password,
		loc:      opts.Location,
		log:      log.With(logx.String("component", "web")),
		limiter:  rate.NewLimiter(rate.Limit(opts.LoginRate), 3),
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Public routes
	s.router.HandleFunc("/login", s.handleLogin)
	s.router.HandleFunc("/logout", s.handleLogout)

	// Protected routes
	s.router.HandleFunc("GET /{$}", s.authMiddleware(s.handleIndex))
	s.router.HandleFunc("GET /calendar.ics", s.authMiddleware(s.handleCalendar))

	s.router.HandleFunc("POST /api/{kind}", s.authMiddleware(s.handleSchedule))
	s.router.HandleFunc("GET /api/{kind}", s.authMiddleware(s.handleStatus))
	s.router.HandleFunc("DELETE /api/{kind}", s.authMiddleware(s.handleDeleteAll))
	s.router.HandleFunc("POST /api/{kind}/stop", s.authMiddleware(s.handleStopAll))
	s.router.HandleFunc("PATCH /api/{kind}/{id}", s.authMiddleware(s.handleEdit))
	s.router.HandleFunc("DELETE /api/{kind}/{id}", s.authMiddleware(s.handleDelete))
	s.router.HandleFunc("POST /api/{kind}/{id}/stop", s.authMiddleware(s.handleStop))
	s.router.HandleFunc("POST /api/{kind}/{id}/snooze", s.authMiddleware(s.handleSnooze))
	s.router.HandleFunc("POST /api/{kind}/{id}/reschedule", s.authMiddleware(s.handleReschedule))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.password == "" || s.validSession(r) {
			next(w, r)
			return
		}
		if isAPI(r) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func (s *Server) validSession(r *http.Request) bool {
	cookie, err := r.Cookie("session_token")
	if err != nil || cookie.Value == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[cookie.Value]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.sessions, cookie.Value)
		return false
	}
	return true
}

// Handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.password == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.renderTemplate(w, "login.html", nil)
	case http.MethodPost:
		if !s.limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			s.renderTemplate(w, "login.html", map[string]any{"Error": "Too many attempts, try again later"})
			return
		}
		if r.FormValue("password") != s.password {
			s.log.Warn("failed login", logx.String("remote", r.RemoteAddr))
			s.renderTemplate(w, "login.html", map[string]any{"Error": "Invalid password"})
			return
		}

		sessionToken := uuid.New().String()
		expiry := s.now().Add(sessionTTL)
		s.mu.Lock()
		s.sessions[sessionToken] = expiry
		s.mu.Unlock()

		http.SetCookie(w, &http.Cookie{
			Name:     "session_token",
			Value:    sessionToken,
			Expires:  expiry,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, _ := r.Cookie("session_token"); cookie != nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type indexView struct {
	Alarms    []model.Item
	Reminders []model.Item
	Finished  []model.Item
	Location  *time.Location
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view := indexView{Location: s.loc}
	for _, it := range s.coord.List() {
		switch {
		case !it.Status.Pending():
			view.Finished = append(view.Finished, it)
		case it.Kind == model.KindReminder:
			view.Reminders = append(view.Reminders, it)
		default:
			view.Alarms = append(view.Alarms, it)
		}
	}
	s.renderTemplate(w, "index.html", view)
}

var templateFuncs = template.FuncMap{
	"clock": func(t time.Time, loc *time.Location) string {
		return t.In(loc).Format("Mon Jan 2 3:04 PM")
	},
	"dict": func(kv ...any) (map[string]any, error) {
		if len(kv)%2 != 0 {
			return nil, fmt.Errorf("dict: odd number of arguments")
		}
		m := make(map[string]any, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			k, ok := kv[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
			}
			m[k] = kv[i+1]
		}
		return m, nil
	},
}

func (s *Server) renderTemplate(w http.ResponseWriter, tmplName string, data any) {
	tmpl, err := template.New(tmplName).Funcs(templateFuncs).ParseFS(templateFS, "templates/"+tmplName)
	if err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, fmt.Sprintf("Execute error: %v", err), http.StatusInternalServerError)
	}
}
