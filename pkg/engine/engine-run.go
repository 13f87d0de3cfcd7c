package engine

import (
	"fmt"
	"imagecache/pkg/cachemanager"
	"imagecache/pkg/utils/fs"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/valyala/fasthttp"
)

const (
	pidFileName  = "imagecache.pid"
	sourceHeader = "X-Imagecache-Source"
)

func (engine *Engine) Run() error {
	addr := net.JoinHostPort(engine.config.Server.Host, fmt.Sprintf("%d", engine.config.Server.Port))
	engine.logger.Info(fmt.Sprintf("Image cache starting on %s...", addr))

	if err := engine.storePid(); err != nil {
		return err
	}

	server := &fasthttp.Server{
		Handler:          engine.handleRequest,
		MaxConnsPerIP:    0,
		DisableKeepalive: false,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(addr)
	}()

	var runErr error
	select {
	case <-stop:
		engine.logger.Info("Shutting down server...")
		if err := server.Shutdown(); err != nil {
			engine.logger.Error(fmt.Sprintf("Server shutdown error: %v", err))
		}
	case runErr = <-serveErr:
		engine.logger.Error(fmt.Sprintf("Fatal server error: %v", runErr))
	}

	if cerr := engine.cleanup(); cerr != nil {
		engine.logger.Error(fmt.Sprintf("Cleanup error: %v", cerr))
		if runErr == nil {
			runErr = cerr
		}
	}
	return runErr
}

func (engine *Engine) handleRequest(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	engine.logger.Debug(fmt.Sprintf("Incoming request - Method: %s, Path: %s", ctx.Method(), path))

	switch path {
	case "/image":
		engine.handleImage(ctx)
	case "/metrics":
		engine.metricsHandler(ctx)
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}

func (engine *Engine) handleImage(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	if engine.rateLimitManager != nil {
		result := engine.rateLimitManager.Check(ctx)
		if !result.Allowed {
			engine.metrics.RateLimited()
			engine.rateLimitManager.Reject(ctx, result)
			return
		}
		engine.rateLimitManager.SetHeaders(ctx, result)
	}

	key := string(ctx.QueryArgs().Peek("url"))
	if key == "" {
		writeError(ctx, "missing url parameter", fasthttp.StatusBadRequest)
		return
	}

	img, source := engine.cacheManager.Lookup(key)
	ctx.Response.Header.Set(sourceHeader, source.String())
	if img == nil {
		engine.logger.Info(fmt.Sprintf("No image for %s", key))
		writeError(ctx, "no image", fasthttp.StatusNotFound)
		return
	}

	data, err := engine.codec.Encode(img)
	if err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to encode image for %s: %v", key, err))
		writeError(ctx, "Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	if source != cachemanager.SourceMemory {
		engine.logger.Info(fmt.Sprintf("Served %s from %s", key, source))
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("image/png")
	ctx.SetBody(data)
}

// writeError keeps headers already set on the response, unlike ctx.Error.
func writeError(ctx *fasthttp.RequestCtx, msg string, statusCode int) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(msg)
}

func (engine *Engine) pidPath() string {
	return filepath.Join(engine.config.Storage.Path, pidFileName)
}

func (engine *Engine) storePid() error {
	engine.logger.Info("Storing program id information...")

	storageDir := engine.config.Storage.Path
	if err := fs.EnsureDir(storageDir); err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to create program storage path due to %v", err))
		return err
	}

	path := engine.pidPath()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", engine.pid)), 0o644); err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to store program id due to %v", err))
		return err
	}

	engine.logger.Info(fmt.Sprintf("Stored program id information at %s", path))
	return nil
}

func (engine *Engine) cleanup() error {
	var err error
	if err = os.Remove(engine.pidPath()); err != nil {
		engine.logger.Error(fmt.Sprintf("Failed to remove PID file: %v", err))
	} else {
		engine.logger.Info("PID file removed.")
	}

	if cerr := engine.Close(); err == nil {
		err = cerr
	}
	return err
}
