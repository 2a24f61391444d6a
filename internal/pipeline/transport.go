package pipeline

import "net/http"

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Decorator wraps a Doer with extra transport behavior. Certificate pinning
// or hardware-backed TLS slots in here; the pipeline itself never depends on
// either.
type Decorator func(Doer) Doer

// Decorate applies decorators to base in order; the last decorator becomes
// the outermost layer.
func Decorate(base Doer, decorators ...Decorator) Doer {
	for _, d := range decorators {
		base = d(base)
	}
	return base
}

// WithUserAgent stamps a User-Agent header on every outgoing request.
func WithUserAgent(ua string) Decorator {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			req.Header.Set("User-Agent", ua)
			return next.Do(req)
		})
	}
}
