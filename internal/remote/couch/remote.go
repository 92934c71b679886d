// Package couch keeps the trip document in CouchDB.
package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tripsync/internal/domain"
	"tripsync/internal/remote"
	"tripsync/internal/wire"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	Database string `json:"database" validate:"required"`
	DocID    string `json:"doc_id,omitempty"`
}

type tripDoc struct {
	ID   string          `json:"_id"`
	Rev  string          `json:"_rev,omitempty"`
	Data json.RawMessage `json:"data"`
}

type backupDoc struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	domain.BackupRecord
}

type Remote struct {
	client *kivik.Client
	db     *kivik.DB
	docID  string
}

func New(ctx context.Context, cfg Config) (*Remote, error) {
	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	docID := cfg.DocID
	if docID == "" {
		docID = "trip:trip_plan_data"
	}
	return &Remote{client: client, db: client.DB(cfg.Database), docID: docID}, nil
}

func (r *Remote) Name() string { return "couchdb" }

func (r *Remote) Fetch(ctx context.Context) (*domain.TripDocument, error) {
	var doc tripDoc
	if err := r.db.Get(ctx, r.docID).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch trip document: %w", err)
	}
	return remote.Decode(doc.Data)
}

// Push overwrites the stored document, taking the current revision first so
// the write is a replace rather than a conflict.
func (r *Remote) Push(ctx context.Context, doc *domain.TripDocument) error {
	data, err := wire.ToWire(doc)
	if err != nil {
		return err
	}

	next := tripDoc{ID: r.docID, Data: data}
	var existing tripDoc
	err = r.db.Get(ctx, r.docID).ScanDoc(&existing)
	switch {
	case err == nil:
		next.Rev = existing.Rev
	case kivik.HTTPStatus(err) != http.StatusNotFound:
		return fmt.Errorf("failed to read current revision: %w", err)
	}

	if _, err := r.db.Put(ctx, r.docID, next); err != nil {
		return fmt.Errorf("failed to store trip document: %w", err)
	}
	return nil
}

func (r *Remote) PushBackup(ctx context.Context, rec domain.BackupRecord) error {
	id := "backup:" + rec.Key
	if _, err := r.db.Put(ctx, id, backupDoc{ID: id, BackupRecord: rec}); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			// Already stored; backups never change.
			return nil
		}
		return fmt.Errorf("failed to store backup: %w", err)
	}
	return nil
}

func (r *Remote) Close() error {
	return r.client.Close()
}

var _ remote.Documents = (*Remote)(nil)
