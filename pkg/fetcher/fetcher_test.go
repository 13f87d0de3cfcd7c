package fetcher

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"imagecache/pkg/images"
	"imagecache/pkg/models"
	"imagecache/pkg/utils/logger"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w; i++ {
		img.SetNRGBA(i, 0, color.NRGBA{R: 200, G: uint8(i), B: 10, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newTestFetcher wires a fetcher to an in-memory fasthttp server; every host
// name resolves to it.
func newTestFetcher(t *testing.T, config *models.FetchConfig, handler fasthttp.RequestHandler) *Fetcher {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, handler)
	t.Cleanup(func() { ln.Close() })

	f, err := NewFetcher(config, images.NewPNGCodec(), logger.NewNopLogger())
	require.NoError(t, err)
	f.client.Dial = func(addr string) (net.Conn, error) {
		return ln.Dial()
	}
	return f
}

func TestFetcher_Load(t *testing.T) {
	body := pngBytes(t, 5, 3)
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/u/45698820", string(ctx.Path()))
		ctx.SetContentType("image/png")
		ctx.SetBody(body)
	})

	img, err := f.Load("http://avatars.example.com/u/45698820?v=4")
	require.NoError(t, err)
	assert.Equal(t, 5, img.Width())
	assert.Equal(t, 3, img.Height())
}

func TestFetcher_FollowsRedirects(t *testing.T) {
	body := pngBytes(t, 2, 2)
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/old.png" {
			ctx.Redirect("/new.png", fasthttp.StatusFound)
			return
		}
		ctx.SetBody(body)
	})

	img, err := f.Load("http://cdn.example.com/old.png")
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width())
}

func TestFetcher_InvalidURL(t *testing.T) {
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		t.Error("no request expected for an invalid url")
	})

	for _, key := range []string{"not a url", "ftp://example.com/a.png", "/relative/a.png", "http://", "://missing-scheme"} {
		_, err := f.Load(key)
		assert.ErrorIs(t, err, ErrInvalidURL, key)
	}
}

func TestFetcher_UnexpectedStatus(t *testing.T) {
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	_, err := f.Load("http://example.com/missing.png")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestFetcher_UndecodableBody(t *testing.T) {
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("<html>definitely not an image</html>")
	})

	_, err := f.Load("http://example.com/page.html")
	assert.Error(t, err)
}

func TestFetcher_MaxContentSize(t *testing.T) {
	body := pngBytes(t, 64, 64)
	f := newTestFetcher(t, &models.FetchConfig{MaxContentSize: 16}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBody(body)
	})

	_, err := f.Load("http://example.com/large.png")
	assert.Error(t, err)
}

func TestFetcher_HostPatterns(t *testing.T) {
	var requests atomic.Int32
	body := pngBytes(t, 1, 1)
	f := newTestFetcher(t, &models.FetchConfig{
		Include: []string{`\.example\.com$`},
		Exclude: []string{`^private\.`},
	}, func(ctx *fasthttp.RequestCtx) {
		requests.Add(1)
		ctx.SetBody(body)
	})

	_, err := f.Load("http://cdn.example.com/a.png")
	assert.NoError(t, err)

	_, err = f.Load("http://example.org/a.png")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	_, err = f.Load("http://private.example.com/a.png")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	assert.Equal(t, int32(1), requests.Load())
}

func TestNewFetcher_InvalidPattern(t *testing.T) {
	_, err := NewFetcher(&models.FetchConfig{Include: []string{"("}}, images.NewPNGCodec(), logger.NewNopLogger())
	assert.Error(t, err)
	_, err = NewFetcher(&models.FetchConfig{Exclude: []string{"["}}, images.NewPNGCodec(), logger.NewNopLogger())
	assert.Error(t, err)
}

func TestFetcher_LoadAsync(t *testing.T) {
	body := pngBytes(t, 3, 3)
	f := newTestFetcher(t, &models.FetchConfig{}, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ok.png" {
			ctx.SetBody(body)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	results := make(chan *images.Image, 2)
	f.LoadAsync("http://example.com/ok.png", func(img *images.Image) { results <- img })
	f.LoadAsync("http://example.com/broken.png", func(img *images.Image) { results <- img })

	var got []*images.Image
	for i := 0; i < 2; i++ {
		select {
		case img := <-results:
			got = append(got, img)
		case <-time.After(5 * time.Second):
			t.Fatal("completion was not called")
		}
	}

	var ok, absent int
	for _, img := range got {
		if img == nil {
			absent++
		} else {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, absent)
}

func TestFetcher_RejectsPrivateAddresses(t *testing.T) {
	f, err := NewFetcher(&models.FetchConfig{}, images.NewPNGCodec(), logger.NewNopLogger())
	require.NoError(t, err)

	for _, key := range []string{
		"http://127.0.0.1/a.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.1.2.3:8080/a.png",
		"http://192.168.0.10/a.png",
		"http://[::1]/a.png",
		"http://0.0.0.0/a.png",
	} {
		_, err := f.Load(key)
		assert.ErrorIs(t, err, ErrHostNotAllowed, key)
	}
}

func TestDialPublic_RefusesPrivateResolution(t *testing.T) {
	_, err := dialPublic("localhost:80")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	_, err = dialPublic("127.0.0.1:80")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	_, err = dialPublic("missing-port")
	assert.Error(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.1.1", "169.254.169.254", "::1", "fe80::1", "fd00::1", "0.0.0.0"} {
		assert.True(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"93.184.216.34", "8.8.8.8", "2606:4700::1111"} {
		assert.False(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
}

func TestFetcher_AllowPrivateNetworks(t *testing.T) {
	body := pngBytes(t, 2, 2)
	f := newTestFetcher(t, &models.FetchConfig{AllowPrivateNetworks: true}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBody(body)
	})

	img, err := f.Load("http://127.0.0.1:9000/a.png")
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width())
}

func TestFetcher_RejectsOversizedDimensions(t *testing.T) {
	body := pngBytes(t, 1, 1)
	// declare 30000x30000 in the header; the body stays tiny
	binary.BigEndian.PutUint32(body[16:20], 30000)
	binary.BigEndian.PutUint32(body[20:24], 30000)
	binary.BigEndian.PutUint32(body[29:33], crc32.ChecksumIEEE(body[12:29]))

	f := newTestFetcher(t, &models.FetchConfig{MaxContentSize: 4096}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBody(body)
	})

	_, err := f.Load("http://example.com/bomb.png")
	assert.ErrorIs(t, err, images.ErrImageTooLarge)
}
