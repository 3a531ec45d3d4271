package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	postgresNotifyChannel     = "leadsync_changes"
	postgresOperationTimeout  = 5 * time.Second
	postgresListenerMinRetry  = 2 * time.Second
	postgresListenerMaxRetry  = time.Minute
	postgresListenerPingEvery = 90 * time.Second
)

var (
	leadColumns    = []string{"id", "client_id", "name", "phone", "email", "source", "stage_id", "created_at", "last_contact", "response_time_seconds", "notes"}
	messageColumns = []string{"id", "lead_id", "direction", "channel", "content", "sent_at", "status"}
	stageColumns   = []string{"id", "name", "sort_order"}
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresSource reads and writes the leads, messages and lead_stages tables
// and follows them through LISTEN/NOTIFY.
type PostgresSource struct {
	dsn     string
	schema  string
	channel string
	openDB  sqlOpenFunc
	log     zerolog.Logger

	initOnce sync.Once
	initErr  error
	db       *sqlx.DB
}

func NewPostgresSource(dsn string, opts Options) (*PostgresSource, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, leadsync.ErrInvalidInput
	}
	return &PostgresSource{
		dsn:     dsn,
		channel: postgresNotifyChannel,
		openDB:  sql.Open,
		log:     opts.logger("postgres_source"),
	}, nil
}

func (s *PostgresSource) table(name string) string {
	if s.schema == "" {
		return postgresQuoteIdentifier(name)
	}
	return postgresQuoteIdentifier(s.schema) + "." + postgresQuoteIdentifier(name)
}

func (s *PostgresSource) ensureReady() error {
	if s == nil {
		return leadsync.ErrInvalidInput
	}
	s.initOnce.Do(func() {
		raw, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		db := sqlx.NewDb(raw, "postgres")
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		if _, err := db.ExecContext(ctx, s.schemaSQL()); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("prepare schema: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresSource) schemaSQL() string {
	fn := s.table("leadsync_notify_change")
	var b strings.Builder
	if s.schema != "" {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", postgresQuoteIdentifier(s.schema))
	}
	fmt.Fprintf(&b, `
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			source TEXT NOT NULL DEFAULT '',
			stage_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_contact TIMESTAMPTZ,
			response_time_seconds BIGINT,
			notes TEXT
		);
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS leadsync_messages_lead_idx ON %s (lead_id, sent_at);
		CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
		DECLARE
			rec jsonb;
		BEGIN
			IF TG_OP = 'DELETE' THEN
				rec := to_jsonb(OLD);
			ELSE
				rec := to_jsonb(NEW);
			END IF;
			PERFORM pg_notify(%s, json_build_object(
				'eventKind', lower(TG_OP),
				'entityKind', TG_TABLE_NAME,
				'affectedId', rec->>'id',
				'leadId', COALESCE(rec->>'lead_id', CASE WHEN TG_TABLE_NAME = 'leads' THEN rec->>'id' END)
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;
	`,
		s.table("lead_stages"),
		s.table("leads"),
		s.table("messages"),
		s.table("messages"),
		fn,
		postgresQuoteLiteral(s.channel),
	)
	for _, name := range []string{"lead_stages", "leads", "messages"} {
		fmt.Fprintf(&b, `
		DROP TRIGGER IF EXISTS leadsync_notify ON %[1]s;
		CREATE TRIGGER leadsync_notify AFTER INSERT OR UPDATE OR DELETE ON %[1]s
			FOR EACH ROW EXECUTE PROCEDURE %[2]s();
		`, s.table(name), fn)
	}
	return b.String()
}

func (s *PostgresSource) SelectLeads(ctx context.Context, q leadsync.Query) ([]leadsync.Lead, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query, args, err := buildSelect(s.table("leads"), leadColumns, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	leads := []leadsync.Lead{}
	if err := s.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *PostgresSource) SelectMessages(ctx context.Context, q leadsync.Query) ([]leadsync.Message, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query, args, err := buildSelect(s.table("messages"), messageColumns, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	msgs := []leadsync.Message{}
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *PostgresSource) SelectStages(ctx context.Context, q leadsync.Query) ([]leadsync.Stage, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query, args, err := buildSelect(s.table("lead_stages"), stageColumns, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	stages := []leadsync.Stage{}
	if err := s.db.SelectContext(ctx, &stages, query, args...); err != nil {
		return nil, err
	}
	return stages, nil
}

func (s *PostgresSource) InsertLead(ctx context.Context, lead leadsync.Lead) (leadsync.Lead, error) {
	if strings.TrimSpace(lead.Name) == "" {
		return leadsync.Lead{}, fmt.Errorf("%w: lead name is required", leadsync.ErrInvalidInput)
	}
	if err := s.ensureReady(); err != nil {
		return leadsync.Lead{}, err
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if _, err := s.db.NamedExecContext(ctx, buildNamedInsert(s.table("leads"), leadColumns), lead); err != nil {
		return leadsync.Lead{}, err
	}
	return lead, nil
}

func (s *PostgresSource) InsertMessage(ctx context.Context, msg leadsync.Message) (leadsync.Message, error) {
	if strings.TrimSpace(msg.LeadID) == "" {
		return leadsync.Message{}, fmt.Errorf("%w: message lead id is required", leadsync.ErrInvalidInput)
	}
	if err := s.ensureReady(); err != nil {
		return leadsync.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if _, err := s.db.NamedExecContext(ctx, buildNamedInsert(s.table("messages"), messageColumns), msg); err != nil {
		return leadsync.Message{}, err
	}
	return msg, nil
}

func (s *PostgresSource) UpdateLead(ctx context.Context, id string, patch leadsync.LeadPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", postgresQuoteIdentifier(column), len(args)))
	}
	if patch.StageID != nil {
		add("stage_id", *patch.StageID)
	}
	if patch.LastContactAt != nil {
		add("last_contact", *patch.LastContactAt)
	}
	if patch.ResponseTimeSeconds != nil {
		add("response_time_seconds", *patch.ResponseTimeSeconds)
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", s.table("leads"), strings.Join(sets, ", "), len(args))

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leadsync.ErrNotFound
	}
	return nil
}

// Subscribe opens a dedicated LISTEN connection. pq re-establishes it on
// failure; each re-establishment is passed on as a reconnect signal.
func (s *PostgresSource) Subscribe(ctx context.Context, req leadsync.SubscribeRequest) (leadsync.Subscription, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	listener := pq.NewListener(s.dsn, postgresListenerMinRetry, postgresListenerMaxRetry, func(event pq.ListenerEventType, err error) {
		switch event {
		case pq.ListenerEventDisconnected:
			s.log.Warn().Err(err).Msg("notify connection lost")
		case pq.ListenerEventReconnected:
			s.log.Info().Msg("notify connection re-established")
		case pq.ListenerEventConnectionAttemptFailed:
			s.log.Warn().Err(err).Msg("notify reconnect attempt failed")
		}
	})
	if err := listener.Listen(s.channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(req, func() {
		cancel()
		_ = listener.Close()
	})
	go s.follow(runCtx, listener, sub)
	return sub, nil
}

func (s *PostgresSource) follow(ctx context.Context, listener *pq.Listener, sub *subscription) {
	defer sub.drop()
	ping := time.NewTicker(postgresListenerPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				s.log.Debug().Err(err).Msg("notify ping failed")
			}
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				sub.signalReconnect()
				continue
			}
			event, err := decodeChangeEvent([]byte(n.Extra))
			if err != nil {
				s.log.Warn().Err(err).Str("payload", n.Extra).Msg("ignoring malformed notification")
				continue
			}
			sub.deliver(event)
		}
	}
}

func (s *PostgresSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildSelect(table string, columns []string, q leadsync.Query) (string, []any, error) {
	allowed := make(map[string]bool, len(columns))
	quoted := make([]string, len(columns))
	for i, c := range columns {
		allowed[c] = true
		quoted[i] = postgresQuoteIdentifier(c)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), table)
	args := make([]any, 0, len(q.Filters))
	for i, f := range q.Filters {
		if !allowed[f.Field] {
			return "", nil, fmt.Errorf("%w: unknown filter field %q", leadsync.ErrInvalidInput, f.Field)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&b, "%s = $%d", postgresQuoteIdentifier(f.Field), len(args))
	}
	if q.Order.Field != "" {
		if !allowed[q.Order.Field] {
			return "", nil, fmt.Errorf("%w: cannot order by %q", leadsync.ErrInvalidInput, q.Order.Field)
		}
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, %s", postgresQuoteIdentifier(q.Order.Field), dir, postgresQuoteIdentifier("id"))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

func buildNamedInsert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	named := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = postgresQuoteIdentifier(c)
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(named, ", "))
}

func decodeChangeEvent(data []byte) (leadsync.ChangeEvent, error) {
	var event leadsync.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return leadsync.ChangeEvent{}, err
	}
	if !event.EntityKind.Valid() {
		return leadsync.ChangeEvent{}, fmt.Errorf("%w: unknown entity kind %q", leadsync.ErrInvalidInput, event.EntityKind)
	}
	return event, nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func postgresQuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
