// Package httpserver is the protocol adapter (spec §4.6): it exposes
// the restic/rustic REST wire protocol over HTTP, translating each
// request into an access-gate decision followed by a storage-engine
// call.
//
// Grounded on the teacher's internal/httpserver (mux construction,
// authWrap-style middleware layering) for overall server shape, and
// on the rclone "serve restic" reference implementation for wire-level
// fidelity (route dispatch on trailing slash, the resticAPIV2 Accept
// token, the v2 {name,size} list shape, and the append-only
// locks-path exception) — read-only reference, not a teacher.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"restserve/internal/gate"
	"restserve/internal/pathresolve"
	"restserve/internal/resticerr"
	"restserve/internal/rlog"
	"restserve/internal/rmetrics"
	"restserve/internal/store"
)

// resticAPIV2 is the Accept token that switches listing responses to
// the v2 {name,size} object shape (spec §4.6/§6).
const resticAPIV2 = "application/vnd.x.restic.rest.v2"

// Server wires the access gate and storage engine into a chi router.
type Server struct {
	Gate   *gate.Gate
	Store  *store.Engine
	Prefix string // optional URL path prefix (spec §6)

	router chi.Router
}

// New builds a Server and its router.
func New(g *gate.Gate, s *store.Engine, prefix string) *Server {
	srv := &Server{Gate: g, Store: s, Prefix: strings.Trim(prefix, "/")}
	srv.router = srv.buildRouter()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(rmetrics.Middleware)

	r.Get("/health/live", s.handleHealthLive)
	r.Handle("/metrics", promhttp.Handler())

	mount := r
	if s.Prefix != "" {
		mount = chi.NewRouter()
		r.Mount("/"+s.Prefix, mount)
	}

	mount.Route("/{repo}", func(repo chi.Router) {
		repo.Head("/config", s.handleConfigHead)
		repo.Get("/config", s.handleConfigGet)
		repo.Post("/config", s.handleConfigPost)
		repo.Delete("/config", s.handleConfigDelete)

		repo.Post("/", s.handleRepoCreate)
		repo.Delete("/", s.handleRepoDelete)

		repo.Get("/{kind}/", s.handleList)
		repo.Head("/{kind}/{id}", s.handleObjectHead)
		repo.Get("/{kind}/{id}", s.handleObjectGet)
		repo.Post("/{kind}/{id}", s.handleObjectPost)
		repo.Delete("/{kind}/{id}", s.handleObjectDelete)
	})

	return r
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// requestIDMiddleware tags each request with a correlation id carried
// in the logger only, never echoed to the client body (spec §7:
// "error identifiers suitable for client log correlation are emitted
// server-side only").
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		logger := rlog.WithRequestID(id)
		ctx := logger.WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- shared helpers ---

func repoName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "repo")
	if !pathresolve.ValidRepoName(name) {
		return "", resticerr.New(resticerr.Malformed, "httpserver.repoName", fmt.Errorf("invalid repository name %q", name))
	}
	return name, nil
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, err := s.Gate.Authenticate(r)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return user, true
}

// writeError maps a resticerr-classified error to a status code and a
// brief plain-text body (spec §7). Auth failures additionally carry
// the WWW-Authenticate challenge (spec §4.5). Internal errors are
// logged server-side with full context through the request's logger
// (stashed into r's context by requestIDMiddleware) before the
// response is written — the client only ever sees a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := resticerr.KindOf(err)
	if kind == resticerr.Internal {
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("internal error")
	}
	if kind == resticerr.Auth {
		w.Header().Set("WWW-Authenticate", `Basic realm="Restic Repository"`)
	}
	status := resticerr.StatusCode(kind)
	http.Error(w, resticerr.Message(kind), status)
}

// --- config ---

func (s *Server) handleConfigHead(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpRead); err != nil {
		writeError(w, r, err)
		return
	}
	size, err := s.Store.SizeOf(repo, pathresolve.KindConfig, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.readObject(w, r, repo, pathresolve.KindConfig, "")
}

func (s *Server) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.createObject(w, r, repo, pathresolve.KindConfig, "")
}

func (s *Server) handleConfigDelete(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.deleteObject(w, r, repo, pathresolve.KindConfig, "")
}

// --- repo lifecycle ---

func (s *Server) handleRepoCreate(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("create") != "true" {
		writeError(w, r, resticerr.New(resticerr.Malformed, "httpserver.handleRepoCreate", fmt.Errorf("missing ?create=true")))
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpCreateRepo); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.CreateRepo(repo); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRepoDelete(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpDeleteRepo); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.DeleteRepo(repo); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- kind listing ---

type listItemV2 struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := pathresolve.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpRead); err != nil {
		writeError(w, r, err)
		return
	}
	infos, err := s.Store.List(repo, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Accept") == resticAPIV2 {
		items := make([]listItemV2, 0, len(infos))
		for _, info := range infos {
			items = append(items, listItemV2{Name: info.ID, Size: info.Size})
		}
		json.NewEncoder(w).Encode(items)
		return
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	json.NewEncoder(w).Encode(ids)
}

// --- objects ---

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request) {
	repo, kind, id, ok := s.parseObjectRoute(w, r)
	if !ok {
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpRead); err != nil {
		writeError(w, r, err)
		return
	}
	size, err := s.Store.SizeOf(repo, kind, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	repo, kind, id, ok := s.parseObjectRoute(w, r)
	if !ok {
		return
	}
	s.readObject(w, r, repo, kind, id)
}

func (s *Server) readObject(w http.ResponseWriter, r *http.Request, repo string, kind pathresolve.Kind, id string) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.Gate.Authorize(user, repo, gate.OpRead); err != nil {
		writeError(w, r, err)
		return
	}

	size, err := s.Store.SizeOf(repo, kind, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		rc, err := s.Store.Read(repo, kind, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, rc)
		return
	}

	offset, length, err := parseRange(rangeHeader, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.Store.ReadRange(repo, kind, id, offset, length)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	io.Copy(w, rc)
}

// parseRange parses a single RFC 7233 byte-range-spec, including the
// suffix ("bytes=-N") form, against an object of the given size.
// Multi-range requests are rejected with OutOfRange (-> 416), as is
// any range entirely outside the object.
func parseRange(header string, size int64) (offset, length int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, resticerr.New(resticerr.Malformed, "httpserver.parseRange", fmt.Errorf("unsupported range unit"))
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, resticerr.New(resticerr.OutOfRange, "httpserver.parseRange", fmt.Errorf("multi-range requests are not supported"))
	}
	start, end, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, resticerr.New(resticerr.Malformed, "httpserver.parseRange", fmt.Errorf("malformed range"))
	}

	if start == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, resticerr.New(resticerr.Malformed, "httpserver.parseRange", fmt.Errorf("malformed suffix range"))
		}
		if n > size {
			n = size
		}
		return size - n, n, nil
	}

	startN, err := strconv.ParseInt(start, 10, 64)
	if err != nil || startN < 0 {
		return 0, 0, resticerr.New(resticerr.Malformed, "httpserver.parseRange", fmt.Errorf("malformed range start"))
	}
	if startN >= size {
		return 0, 0, resticerr.New(resticerr.OutOfRange, "httpserver.parseRange", fmt.Errorf("range start %d beyond size %d", startN, size))
	}
	if end == "" {
		return startN, size - startN, nil
	}
	endN, err := strconv.ParseInt(end, 10, 64)
	if err != nil || endN < startN {
		return 0, 0, resticerr.New(resticerr.Malformed, "httpserver.parseRange", fmt.Errorf("malformed range end"))
	}
	if endN >= size {
		endN = size - 1
	}
	return startN, endN - startN + 1, nil
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request) {
	repo, kind, id, ok := s.parseObjectRoute(w, r)
	if !ok {
		return
	}
	s.createObject(w, r, repo, kind, id)
}

func (s *Server) createObject(w http.ResponseWriter, r *http.Request, repo string, kind pathresolve.Kind, id string) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	// config recreation is observationally a mutation of repository
	// state under append-only, so it is gated like an overwrite even
	// though the access level it requires is Append (spec §4.5/§9).
	op := gate.OpAppend
	if kind == pathresolve.KindConfig {
		op = gate.OpConfigCreate
	}
	if err := s.Gate.Authorize(user, repo, op); err != nil {
		writeError(w, r, err)
		return
	}
	owner := ""
	if kind == pathresolve.KindLocks {
		owner = user
	}
	if err := s.Store.Create(repo, kind, id, r.Body, owner); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request) {
	repo, kind, id, ok := s.parseObjectRoute(w, r)
	if !ok {
		return
	}
	s.deleteObject(w, r, repo, kind, id)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request, repo string, kind pathresolve.Kind, id string) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	// Locks may be deleted at Append level by their own creator
	// (spec §9's "Locks kind semantics"), independent of the
	// repository's general Modify requirement.
	if kind == pathresolve.KindLocks {
		owner, ownerErr := s.Store.LockOwner(repo, id)
		if ownerErr == nil {
			if err := s.Gate.AllowLockDelete(user, repo, owner); err != nil {
				writeError(w, r, err)
				return
			}
		} else if err := s.Gate.Authorize(user, repo, gate.OpModifyDelete); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := s.Gate.Authorize(user, repo, gate.OpModifyDelete); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Store.Delete(repo, kind, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseObjectRoute(w http.ResponseWriter, r *http.Request) (repo string, kind pathresolve.Kind, id string, ok bool) {
	repo, err := repoName(r)
	if err != nil {
		writeError(w, r, err)
		return "", "", "", false
	}
	kind, err = pathresolve.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, err)
		return "", "", "", false
	}
	id = chi.URLParam(r, "id")
	if !pathresolve.ValidID(id) {
		writeError(w, r, resticerr.New(resticerr.Malformed, "httpserver.parseObjectRoute", errors.New("invalid object id")))
		return "", "", "", false
	}
	return repo, kind, id, true
}
