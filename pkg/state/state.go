// Package state persists the coordinator's three durable documents —
// envelope ledger state, approval/seen-transaction state, and the audit
// trail — as whole JSON documents. Two backends are provided: one file
// per document with atomic replace, and a single SQLite database with
// one row per document. The coordinator owns the store; every other
// component reads and writes through the narrow Storage interfaces it
// declares for itself.
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tonsentry/tonsentry/pkg/approval"
	"github.com/tonsentry/tonsentry/pkg/auditlog"
	"github.com/tonsentry/tonsentry/pkg/envelope"
)

// Document names within a backend.
const (
	docEnvelopes = "envelopes"
	docApprovals = "approvals"
	docAudit     = "audit"
)

// backend loads and saves raw documents by name. load returns nil bytes
// for a document that does not exist yet.
type backend interface {
	load(ctx context.Context, name string) ([]byte, error)
	save(ctx context.Context, name string, data []byte) error
}

// Store exposes the three typed document views over one backend.
type Store struct {
	b backend
}

// Envelopes returns the envelope ledger's storage view.
func (s *Store) Envelopes() envelope.Storage { return &envelopeDoc{b: s.b} }

// Approvals returns the approval store's storage view.
func (s *Store) Approvals() approval.Storage { return &approvalDoc{b: s.b} }

// Audit returns the audit trail's storage view.
func (s *Store) Audit() auditlog.Storage { return &auditDoc{b: s.b} }

// envelopeDoc stores all envelopes as one id-keyed JSON object.
type envelopeDoc struct {
	b backend
}

func (d *envelopeDoc) Get(ctx context.Context, id string) (*envelope.Envelope, error) {
	envelopes, err := d.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	env, ok := envelopes[id]
	if !ok {
		return nil, nil
	}
	return env, nil
}

func (d *envelopeDoc) Set(ctx context.Context, env *envelope.Envelope) error {
	envelopes, err := d.loadAll(ctx)
	if err != nil {
		return err
	}
	envelopes[env.ID] = env
	data, err := json.MarshalIndent(envelopes, "", "  ")
	if err != nil {
		return err
	}
	return d.b.save(ctx, docEnvelopes, data)
}

func (d *envelopeDoc) loadAll(ctx context.Context) (map[string]*envelope.Envelope, error) {
	raw, err := d.b.load(ctx, docEnvelopes)
	if err != nil {
		return nil, err
	}
	envelopes := make(map[string]*envelope.Envelope)
	if raw == nil {
		return envelopes, nil
	}
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("corrupt envelope document: %w", err)
	}
	return envelopes, nil
}

// approvalDoc stores the approval document verbatim.
type approvalDoc struct {
	b backend
}

func (d *approvalDoc) Load(ctx context.Context) (*approval.Document, error) {
	raw, err := d.b.load(ctx, docApprovals)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return approval.NewDocument(), nil
	}
	var doc approval.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt approval document: %w", err)
	}
	return &doc, nil
}

func (d *approvalDoc) Save(ctx context.Context, doc *approval.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return d.b.save(ctx, docApprovals, data)
}

// auditDoc stores the audit trail as a JSON array.
type auditDoc struct {
	b backend
}

func (d *auditDoc) Load(ctx context.Context) ([]auditlog.Entry, error) {
	raw, err := d.b.load(ctx, docAudit)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var entries []auditlog.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("corrupt audit document: %w", err)
	}
	return entries, nil
}

func (d *auditDoc) Save(ctx context.Context, entries []auditlog.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return d.b.save(ctx, docAudit, data)
}
