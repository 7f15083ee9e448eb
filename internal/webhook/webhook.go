// Package webhook turns tracker change notifications into targeted sync
// actions. Payloads are authenticated with an HMAC signature and validated
// against a JSON Schema before anything touches the calendar.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/calsync/internal/syncer"
	"github.com/agentworkforce/calsync/internal/tracker"
)

// notificationSchema is the contract every webhook payload must meet. Delete
// notifications carry only the item identifier; create and update also name
// the owning project.
const notificationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["event", "action", "data"],
	"properties": {
		"event": {"type": "string", "enum": ["item"]},
		"action": {"type": "string", "enum": ["created", "updated", "deleted"]},
		"data": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"project_id": {"type": "string"}
			}
		}
	}
}`

// Notification is a validated webhook payload.
type Notification struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Data   struct {
		ID        string `json:"id"`
		ProjectID string `json:"project_id"`
	} `json:"data"`
}

// Result reports what a notification caused.
type Result struct {
	Action    string `json:"action"`
	ItemID    string `json:"item_id"`
	ProjectID string `json:"project_id,omitempty"`
	Applied   bool   `json:"applied"`
	Message   string `json:"message,omitempty"`
}

// Engine is the slice of the sync engine the processor needs.
type Engine interface {
	SyncProjectItem(ctx context.Context, projectID string, item tracker.Item) error
	RemoveItem(ctx context.Context, itemID string) error
}

// Processor authenticates, validates, and applies webhook notifications.
type Processor struct {
	engine  Engine
	tracker tracker.Client
	logger  syncer.Logger
	schema  *jsonschema.Schema

	mu     sync.RWMutex
	secret string

	warnOnce sync.Once
}

func NewProcessor(secret string, engine Engine, trackerClient tracker.Client, logger syncer.Logger) (*Processor, error) {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	if err := compiler.AddResource("notification.json", doc); err != nil {
		return nil, fmt.Errorf("register webhook schema: %w", err)
	}
	schema, err := compiler.Compile("notification.json")
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return &Processor{
		secret:  secret,
		engine:  engine,
		tracker: trackerClient,
		logger:  logger,
		schema:  schema,
	}, nil
}

// UpdateSecret swaps the HMAC secret at runtime. In-flight verifications
// finish against the secret they started with.
func (p *Processor) UpdateSecret(secret string) {
	p.mu.Lock()
	p.secret = secret
	p.mu.Unlock()
}

// VerifySignature checks the hex HMAC-SHA256 of the raw payload. With no
// secret configured every payload passes, with a warning logged once.
func (p *Processor) VerifySignature(payload []byte, signature string) bool {
	p.mu.RLock()
	secret := p.secret
	p.mu.RUnlock()
	if secret == "" {
		p.warnOnce.Do(func() {
			p.logger.Printf("webhook secret not configured; accepting unsigned payloads")
		})
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}

// Validate checks payload against the notification schema and decodes it.
func (p *Processor) Validate(payload []byte) (*Notification, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, &syncer.ValidationError{Field: "payload", Message: "malformed JSON: " + err.Error()}
	}
	if err := p.schema.Validate(instance); err != nil {
		return nil, &syncer.ValidationError{Field: "payload", Message: err.Error()}
	}
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, &syncer.ValidationError{Field: "payload", Message: err.Error()}
	}
	if n.Action != "deleted" && n.Data.ProjectID == "" {
		return nil, &syncer.ValidationError{Field: "data.project_id", Message: "required for " + n.Action}
	}
	return &n, nil
}

// Process applies one validated notification. Create and update refetch the
// item from the tracker first: webhook bodies can lag or truncate, the API
// is authoritative.
func (p *Processor) Process(ctx context.Context, n *Notification) (Result, error) {
	result := Result{Action: n.Action, ItemID: n.Data.ID, ProjectID: n.Data.ProjectID}

	switch n.Action {
	case "deleted":
		if err := p.engine.RemoveItem(ctx, n.Data.ID); err != nil {
			return result, err
		}
		result.Applied = true
		result.Message = "event removed"
		return result, nil

	case "created", "updated":
		item, err := p.tracker.GetItem(ctx, n.Data.ProjectID, n.Data.ID)
		if err != nil {
			return result, err
		}
		if err := p.engine.SyncProjectItem(ctx, n.Data.ProjectID, item); err != nil {
			return result, err
		}
		result.Applied = true
		result.Message = "item synced"
		return result, nil

	default:
		return result, &syncer.ValidationError{Field: "action", Message: "unknown action " + n.Action}
	}
}
