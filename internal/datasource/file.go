package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileSource keeps the data set in one JSON document on disk. Every read goes
// to the file, so edits made by other processes are picked up.
type FileSource struct {
	path string
	log  zerolog.Logger
	now  func() time.Time
	hub  *hub

	// mu serializes read-modify-write cycles on the document.
	mu sync.Mutex

	watchMu   sync.Mutex
	watcher   *fsnotify.Watcher
	watchStop context.CancelFunc
	watchDone chan struct{}
}

func NewFileSource(path string, opts Options) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, leadsync.ErrInvalidInput
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		path: abs,
		log:  opts.logger("file_source"),
		now:  time.Now,
		hub:  newHub(),
	}, nil
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return Document{}, err
	}
	var doc Document
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *FileSource) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// Seed overwrites the document.
func (s *FileSource) Seed(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *FileSource) SelectLeads(ctx context.Context, q leadsync.Query) ([]leadsync.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return selectLeads(doc.Leads, q)
}

func (s *FileSource) SelectMessages(ctx context.Context, q leadsync.Query) ([]leadsync.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return selectMessages(doc.Messages, q)
}

func (s *FileSource) SelectStages(ctx context.Context, q leadsync.Query) ([]leadsync.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return selectStages(doc.Stages, q)
}

func (s *FileSource) InsertLead(ctx context.Context, lead leadsync.Lead) (leadsync.Lead, error) {
	if err := ctx.Err(); err != nil {
		return leadsync.Lead{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return leadsync.Lead{}, err
	}
	lead, err = insertLead(&doc, lead, s.now())
	if err != nil {
		return leadsync.Lead{}, err
	}
	if err := s.save(doc); err != nil {
		return leadsync.Lead{}, err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventInsert, EntityKind: leadsync.EntityLeads, AffectedID: lead.ID, LeadID: lead.ID})
	return lead, nil
}

func (s *FileSource) InsertMessage(ctx context.Context, msg leadsync.Message) (leadsync.Message, error) {
	if err := ctx.Err(); err != nil {
		return leadsync.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return leadsync.Message{}, err
	}
	msg, err = insertMessage(&doc, msg, s.now())
	if err != nil {
		return leadsync.Message{}, err
	}
	if err := s.save(doc); err != nil {
		return leadsync.Message{}, err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventInsert, EntityKind: leadsync.EntityMessages, AffectedID: msg.ID, LeadID: msg.LeadID})
	return msg, nil
}

func (s *FileSource) UpdateLead(ctx context.Context, id string, patch leadsync.LeadPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := updateLead(&doc, id, patch); err != nil {
		return err
	}
	if err := s.save(doc); err != nil {
		return err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventUpdate, EntityKind: leadsync.EntityLeads, AffectedID: id, LeadID: id})
	return nil
}

// Subscribe starts watching the document's directory on first use. A change to
// the file carries no row identity, so it is announced as an update of every kind.
func (s *FileSource) Subscribe(ctx context.Context, req leadsync.SubscribeRequest) (leadsync.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureWatcher(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(req), nil
}

func (s *FileSource) ensureWatcher() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = watcher
	s.watchStop = cancel
	s.watchDone = make(chan struct{})
	go s.watch(ctx, watcher, s.watchDone)
	return nil
}

func (s *FileSource) watch(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				s.hub.closeAll()
				return
			}
			if filepath.Clean(event.Name) != s.path || !event.Op.Has(relevant) {
				continue
			}
			s.log.Debug().Str("op", event.Op.String()).Msg("document changed on disk")
			for _, kind := range leadsync.AllEntityKinds {
				s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventUpdate, EntityKind: kind})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				s.hub.closeAll()
				return
			}
			// Events may have been lost, e.g. on a kernel queue overflow.
			s.log.Warn().Err(err).Msg("file watcher error, requesting resync")
			s.hub.reconnectAll()
		}
	}
}

// Close stops the watcher and drops every subscription.
func (s *FileSource) Close() error {
	s.watchMu.Lock()
	watcher := s.watcher
	stop := s.watchStop
	done := s.watchDone
	s.watcher = nil
	s.watchMu.Unlock()
	var err error
	if watcher != nil {
		stop()
		err = watcher.Close()
		<-done
	}
	s.hub.closeAll()
	return err
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
