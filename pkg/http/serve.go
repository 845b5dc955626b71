package xhttp

import (
	"fmt"
	"net"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout time.Duration

	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration

	// webhook and charge bodies are small; 1MB is plenty
	MaxRequestBodySize int

	RequestTimeout  time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Concurrency     int
	MaxConnsPerIP   int
}

func DefaultServerOption() ServerOption {
	return ServerOption{
		Name:                  "payment-reconciler",
		IdleTimeout:           10 * time.Second,
		MaxIdleWorkerDuration: time.Minute,
		TCPKeepalivePeriod:    2 * time.Hour,
		MaxRequestBodySize:    1 << 20,
		RequestTimeout:        15 * time.Second,
		ReadBufferSize:        4 << 10,
		WriteBufferSize:       4 << 10,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          20 * time.Second,
		Concurrency:           30_000,
		MaxConnsPerIP:         10_000,
	}
}

// printfLogger routes fasthttp's internal Printf logging into the zap logger.
type printfLogger struct{}

func (printfLogger) Printf(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:               NotFoundHandler,
		ErrorHandler:          func(ctx *RequestCtx, err error) { logger.Warn("[xhttp] connection error", "error", err) },
		Name:                  options.Name,
		Concurrency:           options.Concurrency,
		ReadBufferSize:        options.ReadBufferSize,
		WriteBufferSize:       options.WriteBufferSize,
		ReadTimeout:           options.ReadTimeout,
		WriteTimeout:          options.WriteTimeout,
		IdleTimeout:           options.IdleTimeout,
		MaxConnsPerIP:         options.MaxConnsPerIP,
		MaxIdleWorkerDuration: options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:    options.TCPKeepalivePeriod,
		MaxRequestBodySize:    options.MaxRequestBodySize,
		TCPKeepalive:          true,
		NoDefaultServerHeader: true,
		NoDefaultDate:         true,
		NoDefaultContentType:  true,
		CloseOnShutdown:       true,
		Logger:                printfLogger{},
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: CreateDefaultRouter(),
		option: options,
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption())
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve is ListenAndServe over an existing listener, used by tests with in-memory listeners.
func (e *Engine) Serve(ln net.Listener) error {
	e.DoRouting()
	return e.Server.Serve(ln)
}

// DoRouting installs the router as the server handler wrapped by the registered
// middlewares, the first registered being the outermost.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	handler := e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for _, m := range middle {
		handler = m(handler)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
}

// Handler returns the fully wrapped handler without starting a listener.
func (e *Engine) Handler() RequestHandler {
	e.DoRouting()
	return e.Server.Handler
}

// Use appends middleware to the chain run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (e *Engine) Shutdown() error {
	logger.Info("[xhttp] server is shutting down")
	return e.Server.Shutdown()
}
