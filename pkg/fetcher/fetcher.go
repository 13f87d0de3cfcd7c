// Package fetcher resolves an image URL into a decoded image with a single
// best-effort network request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"imagecache/pkg/images"
	"imagecache/pkg/models"
	"imagecache/pkg/utils/logger"
	"imagecache/pkg/utils/regex"
	"net"
	"net/url"
	"regexp"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const maxRedirects = 5

var (
	ErrInvalidURL       = errors.New("invalid image url")
	ErrHostNotAllowed   = errors.New("image host not allowed")
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Fetcher loads images over http(s). It never retries; every failure is
// returned once and callers decide what absence means.
type Fetcher struct {
	client       *fasthttp.Client
	codec        images.ICodec
	include      *regexp.Regexp
	exclude      *regexp.Regexp
	allowPrivate bool
	logger       *logger.Logger
}

func NewFetcher(config *models.FetchConfig, codec images.ICodec, logger *logger.Logger) (*Fetcher, error) {
	include, err := regex.CombinePatterns(config.Include)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch include pattern: %w", err)
	}
	exclude, err := regex.CombinePatterns(config.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch exclude pattern: %w", err)
	}

	f := &Fetcher{
		client: &fasthttp.Client{
			Name:                "imagecache",
			MaxResponseBodySize: int(config.MaxContentSize),
		},
		codec:        codec,
		include:      include,
		exclude:      exclude,
		allowPrivate: config.AllowPrivateNetworks,
		logger:       logger,
	}
	if !f.allowPrivate {
		f.client.Dial = dialPublic
	}
	return f, nil
}

// isPrivateIP reports addresses that must not be reachable through a public
// image URL: loopback, RFC 1918 / ULA, link-local (cloud metadata) and
// unspecified.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

// dialPublic resolves addr and refuses to connect when any address is
// private. Redirect targets go through it as well.
func dialPublic(addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	for _, a := range addrs {
		if isPrivateIP(a.IP) {
			return nil, fmt.Errorf("%w: %s resolves to private address %s", ErrHostNotAllowed, host, a.IP)
		}
	}

	return fasthttp.Dial(net.JoinHostPort(addrs[0].IP.String(), port))
}

// Load downloads key and decodes the body.
func (f *Fetcher) Load(key string) (*images.Image, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, key)
	}

	host := u.Hostname()
	if f.include != nil && !f.include.MatchString(host) {
		return nil, fmt.Errorf("%w: %s is not included", ErrHostNotAllowed, host)
	}
	if f.exclude != nil && f.exclude.MatchString(host) {
		return nil, fmt.Errorf("%w: %s is excluded", ErrHostNotAllowed, host)
	}
	if ip := net.ParseIP(host); ip != nil && !f.allowPrivate && isPrivateIP(ip) {
		return nil, fmt.Errorf("%w: %s is a private address", ErrHostNotAllowed, host)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(key)
	req.Header.SetMethod(fasthttp.MethodGet)

	f.logger.Debug("Fetching image", zap.String("key", key))
	if err := f.client.DoRedirects(req, resp, maxRedirects); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	status := resp.StatusCode()
	if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, status, key)
	}

	img, err := f.codec.Decode(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to decode body of %s: %w", key, err)
	}

	f.logger.Debug(fmt.Sprintf("Fetched %dx%d image", img.Width(), img.Height()), zap.String("key", key))
	return img, nil
}

// LoadAsync runs Load on its own goroutine and hands the result, or nil on
// any failure, to completion exactly once.
func (f *Fetcher) LoadAsync(key string, completion func(*images.Image)) {
	go func() {
		img, err := f.Load(key)
		if err != nil {
			f.logger.Warn("Image load failed", zap.String("key", key), zap.Error(err))
			img = nil
		}
		if completion != nil {
			completion(img)
		}
	}()
}
