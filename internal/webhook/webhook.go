// Package webhook serves the HTTP ingress of spec.md §6.4: a gorilla/mux
// router trimmed from gitjob's pkg/webhook/webhook.go, which
// detects six providers by header sniffing and patches GitJob status
// directly. Only the two providers spec.md names (GitHub, GitLab) survive
// the trim, and the result of a verified push is a Webhook() call against
// the already-running Worker looked up through the Supervisor, not a
// direct status patch.
package webhook

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	ghwebhook "gopkg.in/go-playground/webhooks.v5/github"
	glwebhook "gopkg.in/go-playground/webhooks.v5/gitlab"

	"github.com/nopea-io/nopea/internal/supervisor"
	"github.com/nopea-io/nopea/internal/worker"
)

var (
	repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	commitPattern   = regexp.MustCompile(`^[0-9a-f]{40}$|^[0-9a-f]{64}$`)
)

// ReadyFunc reports readiness for GET /ready; false answers 503. The
// controller binary wires it to leadership only (always true without
// leader election); whether the watch loop is running is not checked.
type ReadyFunc func() bool

// Server is the HTTP ingress the core depends on (spec.md §6.4): webhook
// delivery, liveness, readiness, and Prometheus exposition.
type Server struct {
	registry supervisor.Registry
	secret   string
	ready    ReadyFunc

	github *ghwebhook.Webhook
	gitlab *glwebhook.Webhook
}

// New builds a Server. An empty secret is accepted (every webhook request
// then fails with 500, per spec.md's "secret not configured" status code)
// rather than treated as a construction error.
func New(registry supervisor.Registry, secret string, ready ReadyFunc) (*Server, error) {
	s := &Server{registry: registry, secret: secret, ready: ready}
	if secret == "" {
		return s, nil
	}

	gh, err := ghwebhook.New(ghwebhook.Options.Secret(secret))
	if err != nil {
		return nil, err
	}
	gl, err := glwebhook.New(glwebhook.Options.Secret(secret))
	if err != nil {
		return nil, err
	}
	s.github = gh
	s.gitlab = gl
	return s, nil
}

// Router builds the mux.Router the HTTP server listens with.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook/{repo}", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	repo := mux.Vars(r)["repo"]
	if !repoNamePattern.MatchString(repo) {
		http.Error(w, "invalid repo name", http.StatusBadRequest)
		return
	}
	if s.secret == "" {
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}

	commit, status, err := s.parse(r)
	if err != nil && status != http.StatusOK {
		http.Error(w, err.Error(), status)
		return
	}
	if commit == "" {
		// Recognized but unsupported event type: accepted, nothing to do.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return
	}

	if !commitPattern.MatchString(commit) {
		commit = "" // malformed commit is informational-only; still trigger a sync
	}

	if handle, ok := s.lookupByRepo(repo); ok {
		handle.Webhook(commit)
	} else {
		logrus.Debugf("webhook: no running worker for repo %q, ignoring", repo)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("accepted"))
}

// parse dispatches on provider header, verifies the signature, and
// extracts the pushed commit. A commit="" result with status 200 means
// "recognized but not a push/tag event" (ignored-unsupported-event); err
// then carries the provider's event-not-found error, if any.
func (s *Server) parse(r *http.Request) (commit string, status int, err error) {
	switch {
	case r.Header.Get("X-GitHub-Event") != "":
		payload, perr := s.github.Parse(r, ghwebhook.PushEvent)
		return extractGitHub(payload, perr)
	case r.Header.Get("X-Gitlab-Event") != "":
		payload, perr := s.gitlab.Parse(r, glwebhook.PushEvents, glwebhook.TagEvents)
		return extractGitLab(payload, perr)
	default:
		return "", http.StatusBadRequest, errors.New("unknown provider")
	}
}

func extractGitHub(payload interface{}, err error) (string, int, error) {
	if err != nil {
		return "", statusForError(err, ghwebhook.ErrHMACVerificationFailed, ghwebhook.ErrEventNotFound), err
	}
	push, ok := payload.(ghwebhook.PushPayload)
	if !ok {
		return "", http.StatusOK, nil
	}
	return push.After, http.StatusOK, nil
}

func extractGitLab(payload interface{}, err error) (string, int, error) {
	if err != nil {
		return "", statusForError(err, glwebhook.ErrGitLabTokenVerificationFailed, glwebhook.ErrEventNotFound), err
	}
	switch t := payload.(type) {
	case glwebhook.PushEventPayload:
		return t.CheckoutSHA, http.StatusOK, nil
	case glwebhook.TagEventPayload:
		return t.CheckoutSHA, http.StatusOK, nil
	default:
		return "", http.StatusOK, nil
	}
}

// statusForError maps a provider parse error to spec.md §6.4's status
// codes: the signature-failure sentinel is 401, the unsupported-event
// sentinel is 200 (the handler answers it as ignored), and everything else
// (malformed body, wrong method, missing event header) is 400.
func statusForError(err, sigErr, unsupportedErr error) int {
	if errors.Is(err, sigErr) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, unsupportedErr) {
		return http.StatusOK
	}
	return http.StatusBadRequest
}

// lookupByRepo resolves a flat repo identifier (spec.md's RepositorySpec
// name) to its running Worker. The Supervisor indexes workers by the
// namespace-qualified registry key, so every tracked key is checked
// against its Handle's Repo field rather than matched directly.
func (s *Server) lookupByRepo(repo string) (*worker.Handle, bool) {
	for _, key := range s.registry.List() {
		h, found := s.registry.Lookup(key)
		if found && h.Repo == repo {
			return h, true
		}
	}
	return nil, false
}
