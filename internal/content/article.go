package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
)

const (
	// DefaultArticleChars caps article text handed to the writer.
	DefaultArticleChars = 6000
	userAgent           = "NewsletterAgent/1.0 (+https://example.com/bot)"
)

var (
	ErrInvalidArticleURL = errors.New("invalid article url")
	// ErrPrivateAddress is returned when an article host resolves to a
	// loopback, private or link-local address.
	ErrPrivateAddress = errors.New("article address is not public")
)

const maxArticleRedirects = 10

// Article is the readable part of a seed page.
type Article struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// ArticleFetcher loads an article from a URL.
type ArticleFetcher interface {
	FetchArticle(ctx context.Context, rawURL string) (Article, error)
}

// HTTPArticleFetcher downloads a page with a plain GET and runs readability on it.
// Connections are only made to public addresses unless AllowPrivate is set,
// and every redirect hop is checked against Permit.
type HTTPArticleFetcher struct {
	Client       *http.Client
	MaxChars     int
	Permit       func(host string) bool
	AllowPrivate bool
}

func NewHTTPArticleFetcher(timeout time.Duration, maxChars int) *HTTPArticleFetcher {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	f := &HTTPArticleFetcher{MaxChars: maxChars}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second, Control: f.checkDial}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = nil
	base.DialContext = dialer.DialContext
	f.Client = &http.Client{
		Timeout:       timeout,
		Transport:     otelhttp.NewTransport(base),
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// checkDial runs after DNS resolution, so address is always an IP.
func (f *HTTPArticleFetcher) checkDial(_, address string, _ syscall.RawConn) error {
	if f.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || !PublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func (f *HTTPArticleFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxArticleRedirects {
		return fmt.Errorf("stopped after %d redirects", maxArticleRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to %q", ErrInvalidArticleURL, req.URL.String())
	}
	if f.Permit != nil && !f.Permit(req.URL.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostBlocked, req.URL.Hostname())
	}
	return nil
}

// PublicIP reports whether ip is routable on the public internet.
func PublicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		// 100.64.0.0/10 carrier-grade NAT, 0.0.0.0/8
		if v4[0] == 0 || (v4[0] == 100 && v4[1]&0xc0 == 64) {
			return false
		}
	}
	return true
}

func (f *HTTPArticleFetcher) FetchArticle(ctx context.Context, rawURL string) (Article, error) {
	u, err := parseArticleURL(rawURL)
	if err != nil {
		return Article{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Article{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.Client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Article{}, &StatusError{Status: resp.Status, Code: resp.StatusCode, Body: string(b)}
	}
	return readable(resp.Body, u, f.MaxChars)
}

// BrowserArticleFetcher renders the page in headless Chrome before extraction.
// Hosts are resolved up front and refused when any address is not public.
type BrowserArticleFetcher struct {
	Timeout      time.Duration
	MaxChars     int
	AllowPrivate bool
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

func (f BrowserArticleFetcher) FetchArticle(ctx context.Context, rawURL string) (Article, error) {
	u, err := parseArticleURL(rawURL)
	if err != nil {
		return Article{}, err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	if !f.AllowPrivate {
		if err := checkPublicHost(ctx, f.Resolver, u.Hostname()); err != nil {
			return Article{}, err
		}
	}
	html, err := renderHTML(ctx, u.String())
	if err != nil {
		return Article{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return readable(strings.NewReader(html), u, f.MaxChars)
}

func checkPublicHost(ctx context.Context, r *net.Resolver, host string) error {
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if !PublicIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a.IP)
		}
	}
	return nil
}

func renderHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func readable(r io.Reader, u *url.URL, maxChars int) (Article, error) {
	a, err := readability.FromReader(r, u)
	if err != nil {
		return Article{}, fmt.Errorf("extract article: %w", err)
	}
	return Article{
		URL:   u.String(),
		Title: strings.TrimSpace(a.Title),
		Text:  capArticle(strings.TrimSpace(a.TextContent), maxChars),
	}, nil
}

// ArticleFromHTML converts caller-supplied markup to Markdown text.
func ArticleFromHTML(html string, maxChars int) (Article, error) {
	conv := md.NewConverter("", true, nil)
	text, err := conv.ConvertString(html)
	if err != nil {
		return Article{}, fmt.Errorf("convert article html: %w", err)
	}
	return Article{Text: capArticle(strings.TrimSpace(text), maxChars)}, nil
}

func parseArticleURL(raw string) (*url.URL, error) {
	if !helpers.IsLink(raw) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidArticleURL, raw)
	}
	return url.Parse(raw)
}

func capArticle(s string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultArticleChars
	}
	return helpers.TruncateRunes(s, maxChars)
}

// ErrHostBlocked is returned for article URLs outside the crawl policy.
var ErrHostBlocked = errors.New("article host blocked by crawl policy")

// PolicyFetcher consults Permit before delegating to Next.
type PolicyFetcher struct {
	Next   ArticleFetcher
	Permit func(host string) bool
}

func (f PolicyFetcher) FetchArticle(ctx context.Context, rawURL string) (Article, error) {
	u, err := parseArticleURL(rawURL)
	if err != nil {
		return Article{}, err
	}
	if f.Permit != nil && !f.Permit(u.Hostname()) {
		return Article{}, fmt.Errorf("%w: %s", ErrHostBlocked, u.Hostname())
	}
	return f.Next.FetchArticle(ctx, rawURL)
}
