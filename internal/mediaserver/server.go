// Package mediaserver streams the catalog's files over HTTP: media
// with range support, cover art from sidecar files or embedded
// pictures.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

// Config configures the media HTTP server.
type Config struct {
	// Listen is the host:port to bind, port 0 picks one.
	Listen string
	// PathPrefix roots every served URL path, e.g. "/uprcl".
	PathPrefix string
	// PathMap rewrites URL path prefixes to filesystem prefixes, for
	// setups where the catalog indexes a mount the URLs should not
	// expose. Longest prefix wins.
	PathMap map[string]string
}

// Server is the streaming endpoint backing the URIs the catalog hands
// out.
type Server struct {
	log    *zap.Logger
	config Config

	mu       sync.Mutex
	hostPort string
	server   *http.Server
	ln       net.Listener
}

func New(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/uprcl"
	}
	if !strings.HasPrefix(cfg.PathPrefix, "/") {
		cfg.PathPrefix = "/" + cfg.PathPrefix
	}
	return &Server{log: log, config: cfg}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.PathPrefix+"/", s.serveMedia)
	mux.HandleFunc("/waiting", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := &http.Server{Handler: mux}

	s.mu.Lock()
	s.hostPort = net.JoinHostPort(host, port)
	s.server = server
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("media server stopped", zap.Error(err))
		}
	}()
	s.log.Info("media server started", zap.String("host_port", s.HostPort()))
	return nil
}

// HostPort reports the bound address, valid after Start.
func (s *Server) HostPort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostPort
}

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = server.Shutdown(ctx)
		cancel()
	}
}

// fsPath maps a URL path under the prefix back to a filesystem path,
// applying the longest matching PathMap rewrite.
func (s *Server) fsPath(urlPath string) string {
	p := strings.TrimPrefix(urlPath, s.config.PathPrefix)
	if p == "" {
		p = "/"
	}
	prefixes := make([]string, 0, len(s.config.PathMap))
	for from := range s.config.PathMap {
		prefixes = append(prefixes, from)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, from := range prefixes {
		if strings.HasPrefix(p, from) {
			return filepath.Join(s.config.PathMap[from], strings.TrimPrefix(p, from))
		}
	}
	return filepath.FromSlash(p)
}

func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	p := s.fsPath(r.URL.Path)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("embed") != "" {
		s.serveEmbeddedArt(w, r, p)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, filepath.Base(p), info.ModTime(), f)
}

// serveEmbeddedArt extracts the picture from an audio file's metadata.
func (s *Server) serveEmbeddedArt(w http.ResponseWriter, r *http.Request, p string) {
	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil || m.Picture() == nil {
		http.NotFound(w, r)
		return
	}
	pic := m.Picture()
	mime := pic.MIMEType
	if mime == "" {
		mime = fmt.Sprintf("image/%s", pic.Ext)
	}
	w.Header().Set("Content-Type", mime)
	if _, err := w.Write(pic.Data); err != nil {
		s.log.Debug("art write failed", zap.Error(err))
	}
}
