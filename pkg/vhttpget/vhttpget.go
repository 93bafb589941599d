// Package vhttpget is an injectable HTTP GET helper. The NewTester variant
// lets tests declare exact URL-to-response expectations so that no test ever
// touches the network.
package vhttpget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
)

type Option interface {
	Set(o *Opts)
}

type Opts struct {
	Header  map[string]string
	Context context.Context
}

func (o Opts) Set(another *Opts) {
	*another = o
}

// WithContext binds the request to ctx so that run-level timeouts cancel
// in-flight version lookups.
func WithContext(ctx context.Context) Option {
	return ctxOption{ctx: ctx}
}

type ctxOption struct {
	ctx context.Context
}

func (o ctxOption) Set(opts *Opts) {
	opts.Context = o.ctx
}

// Header sets request headers, e.g. an Authorization bearer token.
func Header(h map[string]string) Option {
	return headerOption{h: h}
}

type headerOption struct {
	h map[string]string
}

func (o headerOption) Set(opts *Opts) {
	opts.Header = o.h
}

type Getter interface {
	DoRequest(url string, opt ...Option) (string, error)
}

// StatusError is returned for non-2xx responses so that callers can
// distinguish e.g. a 404 from a transport failure.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Snippet    string
}

func (e *StatusError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("GET %s: %s: %s", e.URL, e.Status, e.Snippet)
	}
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

type getter struct {
	responseBodyFor func(url string, opts Opts) (io.ReadCloser, error)
}

func New() Getter {
	return &getter{
		responseBodyFor: func(url string, opts Opts) (io.ReadCloser, error) {
			req, err := http.NewRequest(http.MethodGet, url, &bytes.Buffer{})
			if err != nil {
				return nil, err
			}

			if opts.Context != nil {
				req = req.WithContext(opts.Context)
			}

			if header := opts.Header; header != nil {
				for k, v := range header {
					req.Header.Add(k, v)
				}
			}

			res, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, err
			}

			if res.StatusCode < 200 || res.StatusCode >= 300 {
				defer res.Body.Close()
				body, _ := ioutil.ReadAll(io.LimitReader(res.Body, 512))
				return nil, &StatusError{
					URL:        url,
					StatusCode: res.StatusCode,
					Status:     res.Status,
					Snippet:    string(body),
				}
			}

			return res.Body, nil
		},
	}
}

func NewTester(expectations map[string]string) Getter {
	return &getter{
		responseBodyFor: func(url string, opts Opts) (io.ReadCloser, error) {
			res, ok := expectations[url]
			if !ok {
				return nil, fmt.Errorf("unexpected input: url=%v, opts=%v", url, opts)
			}
			r := ioutil.NopCloser(bytes.NewReader([]byte(res)))
			return r, nil
		},
	}
}

// NewStatusTester is like NewTester but also allows expectations that resolve
// to HTTP error statuses, for exercising not-found handling.
func NewStatusTester(expectations map[string]ResponseStub) Getter {
	return &getter{
		responseBodyFor: func(url string, opts Opts) (io.ReadCloser, error) {
			stub, ok := expectations[url]
			if !ok {
				return nil, fmt.Errorf("unexpected input: url=%v, opts=%v", url, opts)
			}
			if stub.StatusCode >= 300 {
				return nil, &StatusError{
					URL:        url,
					StatusCode: stub.StatusCode,
					Status:     fmt.Sprintf("%d %s", stub.StatusCode, http.StatusText(stub.StatusCode)),
					Snippet:    stub.Body,
				}
			}
			return ioutil.NopCloser(bytes.NewReader([]byte(stub.Body))), nil
		},
	}
}

type ResponseStub struct {
	StatusCode int
	Body       string
}

func (t *getter) DoRequest(url string, opt ...Option) (string, error) {
	opts := &Opts{}
	for _, o := range opt {
		o.Set(opts)
	}

	res, err := t.responseBodyFor(url, *opts)
	if err != nil {
		return "", err
	}
	defer res.Close()

	bs, err := ioutil.ReadAll(res)
	if err != nil {
		return "", err
	}

	return string(bs), nil
}
