package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	manifest "github.com/hanpama/suitetree/internal/manifest"
	runid "github.com/hanpama/suitetree/internal/runid"
	suite "github.com/hanpama/suitetree/internal/suite"
)

// Runner runs a built plan. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, p *suite.Plan) (*suite.Report, error)
}

// Handler is an http.Handler that runs manifests posted to /run and
// answers with the JSON report.
type Handler struct {
	runner Runner
	opt    Options
	mux    *http.ServeMux
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. Requests carrying an Origin header are rejected
	// unless the origin is listed; with no origins listed, every browser
	// request is rejected.
	CORS CORSOptions

	// Token, when set, is required as "Authorization: Bearer <token>" on
	// /run.
	Token string

	// Build is applied to every posted manifest.
	Build []manifest.BuildOption
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithToken(token string) Option { return func(o *Options) { o.Token = token } }
func WithBuildOptions(opts ...manifest.BuildOption) Option {
	return func(o *Options) { o.Build = append(o.Build, opts...) }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler running manifests with r.
func New(r Runner, opts ...Option) *Handler {
	op := Options{Timeout: 60 * time.Second, MaxBodyBytes: 1 << 20}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{runner: r, opt: op, mux: http.NewServeMux()}
	h.mux.HandleFunc("/run", h.serveRun)
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, false)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = runid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r, Route: "/run"})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Route: "/run", Status: status, Duration: time.Since(start)})
	}()

	if origin := r.Header.Get("Origin"); origin != "" {
		if !h.opt.CORS.allows(origin) {
			status = http.StatusForbidden
			writeError(w, status, "origin not allowed", h.opt.Pretty)
			return
		}
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "POST, OPTIONS")
		writeError(w, status, "method not allowed", h.opt.Pretty)
		return
	}

	if !h.authorized(r) {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Bearer realm="suitetree"`)
		writeError(w, status, "missing or invalid bearer token", h.opt.Pretty)
		return
	}

	body, status, msg := readManifest(r, h.opt.MaxBodyBytes)
	if msg != "" {
		writeError(w, status, msg, h.opt.Pretty)
		return
	}

	m, err := manifest.Parse(body)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err.Error(), h.opt.Pretty)
		return
	}
	plan, err := m.Build(h.opt.Build...)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err.Error(), h.opt.Pretty)
		return
	}
	if err := plan.Focus(r.URL.Query()["focus"]...); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err.Error(), h.opt.Pretty)
		return
	}

	rep, err := h.runner.Run(ctx, plan)
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err.Error(), h.opt.Pretty)
		return
	}
	writeJSON(w, status, rep, h.opt.Pretty)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.opt.Token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(h.opt.Token)) == 1
}

// readManifest returns the body, or a status and message describing why it
// was rejected.
func readManifest(r *http.Request, maxBody int64) ([]byte, int, string) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !slices.Contains(manifestTypes, mt) {
		return nil, http.StatusUnsupportedMediaType, "Content-Type must be application/yaml"
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	defer r.Body.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, http.StatusBadRequest, "failed to read body"
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, http.StatusRequestEntityTooLarge, errBodyTooLargeMessage
	}
	return body, http.StatusOK, ""
}

// manifestTypes holds no type a browser may send without a preflight.
var manifestTypes = []string{"application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml"}

const errBodyTooLargeMessage = "body too large"

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string, pretty bool) {
	writeJSON(w, status, errorBody{Error: msg}, pretty)
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func (c CORSOptions) allows(origin string) bool {
	return slices.Contains(c.AllowedOrigins, "*") || slices.Contains(c.AllowedOrigins, origin)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	if slices.Contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
