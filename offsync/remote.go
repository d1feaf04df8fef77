// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Remote is the server API of one entity type.
// Errors should be classified with Classify so the sync service can tell
// transient failures from permanent rejections.
type Remote[E Entity] interface {
	// Create returns the server representation, carrying the server-assigned id
	Create(ctx context.Context, e E) (E, error)
	Update(ctx context.Context, e E) (E, error)
	// Delete succeeds when the entity is already gone
	Delete(ctx context.Context, id string) error
	// List returns every entity visible in scope; "" lists the whole collection
	List(ctx context.Context, scope string) ([]E, error)
}

// ErrorResponse is the JSON error body returned by the remote API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPRemoteConfig configures an HTTPRemote
type HTTPRemoteConfig struct {
	BaseURL    string                                // e.g. http://localhost:8080/api/v1
	Collection string                                // e.g. cooperations
	Token      func(context.Context) (string, error) // optional, returns a bearer JWT
	HTTP       *http.Client

	// Connectivity, when set, is marked offline on dial failures and the call
	// returns ErrOffline instead of a transient error
	Connectivity *Connectivity
}

// HTTPRemote talks to a REST collection:
// POST /{collection}, PUT /{collection}/{id}, DELETE /{collection}/{id} and GET /{collection}?scope=
type HTTPRemote[E Entity] struct {
	cfg HTTPRemoteConfig
	new func() E
}

// NewHTTPRemote creates a remote for the entity type described by desc
func NewHTTPRemote[E Entity](desc *Descriptor[E], cfg HTTPRemoteConfig) (*HTTPRemote[E], error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL must be provided")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection must be provided for %s", desc.Type)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Collection = strings.Trim(cfg.Collection, "/")
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPRemote[E]{cfg: cfg, new: desc.New}, nil
}

func (r *HTTPRemote[E]) Create(ctx context.Context, e E) (E, error) {
	out := r.new()
	err := r.do(ctx, "create", http.MethodPost, r.collectionURL(), e, out)
	if err != nil {
		var zero E
		return zero, err
	}
	return out, nil
}

func (r *HTTPRemote[E]) Update(ctx context.Context, e E) (E, error) {
	out := r.new()
	err := r.do(ctx, "update", http.MethodPut, r.itemURL(e.GetID()), e, out)
	if err != nil {
		var zero E
		return zero, err
	}
	return out, nil
}

func (r *HTTPRemote[E]) Delete(ctx context.Context, id string) error {
	err := r.do(ctx, "delete", http.MethodDelete, r.itemURL(id), nil, nil)
	var pe *PermanentSyncError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (r *HTTPRemote[E]) List(ctx context.Context, scope string) ([]E, error) {
	u := r.collectionURL()
	if scope != "" {
		u += "?scope=" + url.QueryEscape(scope)
	}
	var raw []json.RawMessage
	if err := r.do(ctx, "list", http.MethodGet, u, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]E, 0, len(raw))
	for i, item := range raw {
		e := r.new()
		if err := json.Unmarshal(item, e); err != nil {
			return nil, &PermanentSyncError{Op: "list", Err: fmt.Errorf("failed to decode item %d: %w", i, err)}
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *HTTPRemote[E]) collectionURL() string {
	return r.cfg.BaseURL + "/" + r.cfg.Collection
}

func (r *HTTPRemote[E]) itemURL(id string) string {
	return r.collectionURL() + "/" + url.PathEscape(id)
}

func (r *HTTPRemote[E]) do(ctx context.Context, op, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &PermanentSyncError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &PermanentSyncError{Op: op, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if r.cfg.Token != nil {
		token, err := r.cfg.Token(ctx)
		if err != nil {
			return &TransientSyncError{Op: op, Err: fmt.Errorf("failed to get JWT token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.cfg.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		if r.cfg.Connectivity != nil && isDialError(err) {
			r.cfg.Connectivity.SetOnline(false)
			return fmt.Errorf("%s: %w: %v", op, ErrOffline, err)
		}
		return Classify(op, 0, fmt.Errorf("failed to send HTTP request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Classify(op, resp.StatusCode, readErrorBody(resp))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PermanentSyncError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func readErrorBody(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && (er.Error != "" || er.Message != "") {
		if er.Message == "" {
			return errors.New(er.Error)
		}
		return fmt.Errorf("%s: %s", er.Error, er.Message)
	}
	if len(body) == 0 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
