package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RemoteEngine talks to the protocol engine sidecar over plain HTTP. The
// sidecar owns keys, HTTP signatures and retries; this client only moves
// JSON in and out.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
}

// NewRemoteEngine builds a client for the engine at baseURL.
func NewRemoteEngine(baseURL string) *RemoteEngine {
	return &RemoteEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *RemoteEngine) resolve(ctx context.Context, iri string, out interface{}) error {
	u := fmt.Sprintf("%s/resolve?iri=%s", e.baseURL, url.QueryEscape(iri))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine resolve failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine resolve %s: status %d: %s", iri, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ResolveActor fetches a remote actor profile via the engine's signed
// fetch.
func (e *RemoteEngine) ResolveActor(ctx context.Context, iri string) (*Actor, error) {
	var actor Actor
	if err := e.resolve(ctx, iri, &actor); err != nil {
		return nil, err
	}
	if actor.ID == "" {
		return nil, fmt.Errorf("engine returned actor without id for %s", iri)
	}
	return &actor, nil
}

// ResolveObject fetches a remote object document via the engine.
func (e *RemoteEngine) ResolveObject(ctx context.Context, iri string) (*Object, error) {
	var obj Object
	if err := e.resolve(ctx, iri, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("engine returned object without id for %s", iri)
	}
	return &obj, nil
}

// ResolveActivity fetches a remote activity document via the engine.
func (e *RemoteEngine) ResolveActivity(ctx context.Context, iri string) (*Activity, error) {
	var act Activity
	if err := e.resolve(ctx, iri, &act); err != nil {
		return nil, err
	}
	if act.ID == "" {
		return nil, fmt.Errorf("engine returned activity without id for %s", iri)
	}
	return &act, nil
}

// Send hands an outbound activity to the engine for signing and delivery.
func (e *RemoteEngine) Send(ctx context.Context, activity *Activity) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/outbox", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine send %s: status %d: %s", activity.Type, resp.StatusCode, body)
	}
	return nil
}
