package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/agentworkforce/calsync/internal/syncer"
	"github.com/agentworkforce/calsync/internal/tracker"
)

type fakeEngine struct {
	synced  []string
	removed []string
	err     error
}

func (f *fakeEngine) SyncProjectItem(ctx context.Context, projectID string, item tracker.Item) error {
	if f.err != nil {
		return f.err
	}
	f.synced = append(f.synced, projectID+"/"+item.ID)
	return nil
}

func (f *fakeEngine) RemoveItem(ctx context.Context, itemID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, itemID)
	return nil
}

type fakeItemSource struct {
	items map[string]tracker.Item
}

func (f *fakeItemSource) ListProjects(ctx context.Context) ([]tracker.Project, error) {
	return nil, nil
}

func (f *fakeItemSource) ListItems(ctx context.Context, projectID string) ([]tracker.Item, error) {
	return nil, nil
}

func (f *fakeItemSource) GetItem(ctx context.Context, projectID, itemID string) (tracker.Item, error) {
	item, ok := f.items[itemID]
	if !ok {
		return tracker.Item{}, &tracker.APIError{StatusCode: 404, Message: "not found"}
	}
	return item, nil
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestProcessor(t *testing.T, secret string, engine Engine, source tracker.Client) *Processor {
	t.Helper()
	p, err := NewProcessor(secret, engine, source, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new processor failed: %v", err)
	}
	return p
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	p := newTestProcessor(t, testSecret, &fakeEngine{}, &fakeItemSource{})
	payload := []byte(`{"event":"item"}`)

	if !p.VerifySignature(payload, sign(testSecret, payload)) {
		t.Fatalf("expected valid signature to pass")
	}
	if p.VerifySignature(payload, sign("wrong-secret-wrong-secret-wrong!", payload)) {
		t.Fatalf("expected signature from wrong secret to fail")
	}
	if p.VerifySignature(payload, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestUpdateSecretAppliesToNewVerifications(t *testing.T) {
	p := newTestProcessor(t, testSecret, &fakeEngine{}, &fakeItemSource{})
	payload := []byte(`{"event":"item"}`)
	rotated := "fedcba9876543210fedcba9876543210"

	p.UpdateSecret(rotated)
	if p.VerifySignature(payload, sign(testSecret, payload)) {
		t.Fatalf("expected signature from retired secret to fail")
	}
	if !p.VerifySignature(payload, sign(rotated, payload)) {
		t.Fatalf("expected signature from rotated secret to pass")
	}
}

func TestVerifySignatureWithoutSecretAcceptsEverything(t *testing.T) {
	p := newTestProcessor(t, "", &fakeEngine{}, &fakeItemSource{})
	if !p.VerifySignature([]byte("anything"), "") {
		t.Fatalf("expected unsigned payload to pass with no secret configured")
	}
}

func TestValidateRejectsBadPayloads(t *testing.T) {
	p := newTestProcessor(t, testSecret, &fakeEngine{}, &fakeItemSource{})
	cases := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"event":`},
		{"missing action", `{"event":"item","data":{"id":"i1"}}`},
		{"unknown action", `{"event":"item","action":"archived","data":{"id":"i1"}}`},
		{"missing id", `{"event":"item","action":"created","data":{"project_id":"p1"}}`},
		{"update without project", `{"event":"item","action":"updated","data":{"id":"i1"}}`},
	}
	for _, tc := range cases {
		_, err := p.Validate([]byte(tc.payload))
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		var verr *syncer.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %T", tc.name, err)
		}
	}
}

func TestProcessUpdateRefetchesItem(t *testing.T) {
	engine := &fakeEngine{}
	source := &fakeItemSource{items: map[string]tracker.Item{
		"i1": {ID: "i1", SequenceID: 4, Name: "Fresh from API", ProjectID: "p1"},
	}}
	p := newTestProcessor(t, testSecret, engine, source)

	n, err := p.Validate([]byte(`{"event":"item","action":"updated","data":{"id":"i1","project_id":"p1"}}`))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	result, err := p.Process(context.Background(), n)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected result applied")
	}
	if len(engine.synced) != 1 || engine.synced[0] != "p1/i1" {
		t.Fatalf("expected targeted sync of p1/i1, got %v", engine.synced)
	}
}

func TestProcessDeleteSkipsItemFetch(t *testing.T) {
	engine := &fakeEngine{}
	// Source holds nothing: delete must not need the item anymore.
	p := newTestProcessor(t, testSecret, engine, &fakeItemSource{})

	n, err := p.Validate([]byte(`{"event":"item","action":"deleted","data":{"id":"i9"}}`))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	result, err := p.Process(context.Background(), n)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected result applied")
	}
	if len(engine.removed) != 1 || engine.removed[0] != "i9" {
		t.Fatalf("expected removal of i9, got %v", engine.removed)
	}
}

func TestProcessPropagatesEngineErrors(t *testing.T) {
	engine := &fakeEngine{err: syncer.ErrSyncBusy}
	source := &fakeItemSource{items: map[string]tracker.Item{"i1": {ID: "i1", ProjectID: "p1"}}}
	p := newTestProcessor(t, testSecret, engine, source)

	n, err := p.Validate([]byte(`{"event":"item","action":"created","data":{"id":"i1","project_id":"p1"}}`))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if _, err := p.Process(context.Background(), n); !errors.Is(err, syncer.ErrSyncBusy) {
		t.Fatalf("expected busy error to propagate, got %v", err)
	}
}
