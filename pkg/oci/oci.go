// Package oci mirrors container images between registries without a local
// Docker daemon, using go-containerregistry's crane. A mirror is a single
// remote-to-remote copy: pulling the source manifest and pushing it under the
// destination reference.
package oci

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
)

// Client implements imagesync.RegistryClient on top of crane.
type Client struct {
	// auth authenticates pushes to the private registry. Pulls from public
	// upstream registries use the anonymous keychain.
	auth authn.Authenticator
}

type Option func(*Client)

// WithBasicAuth sets the username/password used for the destination registry.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		if username != "" || password != "" {
			c.auth = &authn.Basic{Username: username, Password: password}
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Copy mirrors src into dst. crane surfaces a missing source tag as an error,
// which is exactly what the dispatcher wants: a missing tag means the version
// was resolved incorrectly.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	opts := []crane.Option{
		crane.WithContext(ctx),
	}
	if c.auth != nil {
		opts = append(opts, crane.WithAuth(c.auth))
	}

	if err := crane.Copy(src, dst, opts...); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}
