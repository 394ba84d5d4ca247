// Package document implements sink.Adapter over a Badger key-value
// store: one logical container per template plus a control container
// for watermarks, partitioned by ehr_id as spec §6 requires. Grounded on
// the teacher's resources.Manager LRU+checkpoint pattern for the
// "partition by key, stay durable across restarts" shape, and on
// AleutianLocal's graph/analytics.go View/Update txn usage for the
// Badger API itself.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
	"atlas/internal/sink"
)

// Store is a Badger-backed sink.Adapter. Documents live under keys
// `doc/<template_id>/<ehr_id>/<composition_uid>`; watermarks live under
// `wm/<template_id>/<ehr_id>` — logically the "control container" spec
// §6 calls out, physically just another key prefix in the same DB.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, atlaserr.New(atlaserr.KindSink, "document.open", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Badger DB.
func (s *Store) Close() error { return s.db.Close() }

func docKey(templateID domain.TemplateId, ehrID domain.EhrId, uid domain.CompositionUid) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s/%s", templateID, ehrID, uid))
}

func watermarkKey(templateID domain.TemplateId, ehrID domain.EhrId) []byte {
	return []byte(fmt.Sprintf("wm/%s/%s", templateID, ehrID))
}

// EnsureContainer is a no-op: Badger keys need no pre-creation, a
// template's "container" is simply the set of keys under its prefix.
func (s *Store) EnsureContainer(ctx context.Context, templateID domain.TemplateId) error {
	return nil
}

// BulkInsert writes each document under its own transaction so that one
// document's failure never rolls back another's success, matching the
// "never partially acknowledge... a document is durable or reported
// failed" contract at the per-document grain spec §4.2 requires.
func (s *Store) BulkInsert(ctx context.Context, templateID domain.TemplateId, documents []domain.ExportedDocument) ([]sink.InsertResult, error) {
	results := make([]sink.InsertResult, len(documents))
	for i, doc := range documents {
		uid := doc.Envelope.CompositionUid
		ehrID := doc.Envelope.EhrId
		key := docKey(templateID, ehrID, uid)

		exists, err := s.keyExists(key)
		if err != nil {
			results[i] = sink.InsertResult{CompositionUid: uid, Outcome: sink.Failed, Reason: err.Error()}
			continue
		}
		if exists {
			results[i] = sink.InsertResult{CompositionUid: uid, Outcome: sink.Duplicate}
			continue
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			results[i] = sink.InsertResult{CompositionUid: uid, Outcome: sink.Failed, Reason: err.Error()}
			continue
		}

		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, payload)
		}); err != nil {
			results[i] = sink.InsertResult{CompositionUid: uid, Outcome: sink.Failed, Reason: err.Error()}
			continue
		}
		results[i] = sink.InsertResult{CompositionUid: uid, Outcome: sink.Inserted}
	}
	return results, nil
}

func (s *Store) keyExists(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DocumentExists reports whether compositionUid is durable under
// templateID, searching across every ehr_id partition since the
// Verifier does not necessarily know the owning ehr_id up front.
func (s *Store) DocumentExists(ctx context.Context, templateID domain.TemplateId, compositionUid domain.CompositionUid) (bool, error) {
	prefix := []byte(fmt.Sprintf("doc/%s/", templateID))
	suffix := []byte("/" + string(compositionUid))
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if hasSuffix(k, suffix) {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, atlaserr.New(atlaserr.KindSink, "document.exists", string(compositionUid), err)
	}
	return found, nil
}

func hasSuffix(b, suffix []byte) bool {
	if len(b) < len(suffix) {
		return false
	}
	return string(b[len(b)-len(suffix):]) == string(suffix)
}

// ReadWatermark returns the stored watermark, or NotStarted if absent.
func (s *Store) ReadWatermark(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId) (domain.Watermark, error) {
	var w domain.Watermark
	key := watermarkKey(templateID, ehrID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &w)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.NotStarted(templateID, ehrID), nil
	}
	if err != nil {
		return domain.Watermark{}, atlaserr.New(atlaserr.KindSink, "document.read_watermark", string(ehrID), err)
	}
	return w, nil
}

// WriteWatermark atomically upserts w.
func (s *Store) WriteWatermark(ctx context.Context, w domain.Watermark) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	key := watermarkKey(w.TemplateId, w.EhrId)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	}); err != nil {
		return atlaserr.New(atlaserr.KindSink, "document.write_watermark", string(w.EhrId), err)
	}
	return nil
}

var _ sink.Adapter = (*Store)(nil)
