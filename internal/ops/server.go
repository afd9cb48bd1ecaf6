// Package ops serves the operational endpoints: liveness and a small stats
// snapshot. It runs beside the game port and shares nothing with gameplay.
package ops

import (
	"encoding/json"
	"net"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/dispatch"
)

type Server struct {
	addr  string
	stats func() dispatch.Stats
	log   *zap.Logger
	srv   *fasthttp.Server
}

func New(addr string, stats func() dispatch.Stats, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{addr: addr, stats: stats, log: log}
	s.srv = &fasthttp.Server{
		Handler: s.route,
		Name:    "chess-match-ops",
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.log.Info("ops_listen", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

// Serve accepts on a caller-provided listener; tests use an in-memory one.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/stats":
		body, err := json.Marshal(s.stats())
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}
