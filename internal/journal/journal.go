package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/queue"
)

// eventNamespace seeds the deterministic ids of server-identified events.
var eventNamespace = uuid.MustParse("5b1f6d1e-3c1a-4f53-9a55-8f0c2a7e4d10")

// pollInterval is how long the consumer sleeps when the buffer is empty.
const pollInterval = 10 * time.Millisecond

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics receives journal measurements. Implemented by metrics.Recorder.
type Metrics interface {
	BatchWritten(rows int, d time.Duration)
	BatchFailed(rows int)
	JournalPending(n int)
}

// Config controls batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats counts journal activity since creation.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Skipped   int64
}

// Row is one feed_events record.
type Row struct {
	EventID    uuid.UUID
	Kind       dispatch.Kind
	MatchID    int64
	Payload    []byte
	ReceivedAt time.Time
}

type registration struct {
	topic dispatch.Topic
	id    dispatch.ListenerID
}

// Journal buffers feed events and writes them to Postgres in batches.
type Journal struct {
	cfg     Config
	logger  *slog.Logger
	db      BatchSender
	metrics Metrics
	now     func() time.Time

	input *queue.GrowableBuffer[Row]

	batch   []Row
	batchMu sync.Mutex
	stats   Stats

	regMu         sync.Mutex
	registrations []registration
	dispatcher    *dispatch.Dispatcher

	writeCtx    context.Context
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	flushTicker *time.Ticker
}

// Option configures a Journal.
type Option func(*Journal)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(j *Journal) {
		j.metrics = m
	}
}

// WithNow overrides the clock used for received_at.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// New creates a Journal writing to db.
func New(cfg Config, db BatchSender, logger *slog.Logger, opts ...Option) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	j := &Journal{
		cfg:      cfg,
		db:       db,
		logger:   logger.With("component", "journal"),
		now:      time.Now,
		writeCtx: context.Background(),
		input:    queue.NewGrowableBuffer[Row](cfg.BatchSize),
		batch:    make([]Row, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Attach registers the journal on d for every match, commentary and score
// event. Calling Attach again moves the registrations to the new dispatcher.
func (j *Journal) Attach(d *dispatch.Dispatcher) {
	j.Detach()

	j.regMu.Lock()
	defer j.regMu.Unlock()

	j.dispatcher = d
	for _, kind := range []dispatch.Kind{
		dispatch.KindMatchCreated,
		dispatch.KindCommentary,
		dispatch.KindScoreUpdate,
	} {
		topic := dispatch.AllOf(kind)
		id := d.On(topic, func(ev dispatch.Event) { j.Record(ev) })
		j.registrations = append(j.registrations, registration{topic: topic, id: id})
	}
}

// Detach removes the dispatcher registrations made by Attach.
func (j *Journal) Detach() {
	j.regMu.Lock()
	defer j.regMu.Unlock()

	if j.dispatcher == nil {
		return
	}
	for _, r := range j.registrations {
		j.dispatcher.Off(r.topic, r.id)
	}
	j.registrations = nil
	j.dispatcher = nil
}

// Record queues ev for the next flush. Returns false for events the journal
// does not persist or once the journal has stopped.
func (j *Journal) Record(ev dispatch.Event) bool {
	row, err := j.transform(ev)
	if err != nil {
		j.logger.Warn("journal skipped event", "kind", ev.Topic().Kind, "error", err)
		j.batchMu.Lock()
		j.stats.Skipped++
		j.batchMu.Unlock()
		return false
	}
	return j.input.Send(row)
}

// Start begins consuming queued rows and flushing them. Inserts run under ctx
// itself, so Stop does not abort a write already in flight.
func (j *Journal) Start(ctx context.Context) error {
	j.writeCtx = ctx
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop detaches from the dispatcher, waits for the loops to exit and writes
// whatever is still buffered using ctx.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")
	j.Detach()
	j.input.Close()

	if j.cancel != nil {
		j.cancel()
	}
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
		return fmt.Errorf("stop journal: %w", ctx.Err())
	}

	// Rows still in the buffer after the consumer exited.
	if rows := j.input.DrainTo(0); len(rows) > 0 {
		j.batchMu.Lock()
		j.batch = append(j.batch, rows...)
		j.batchMu.Unlock()
	}
	if err := j.flush(ctx); err != nil {
		return fmt.Errorf("final journal flush: %w", err)
	}

	j.logger.Info("journal stopped")
	return nil
}

// Stats returns a copy of the journal counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

// Pending returns the number of rows not yet written.
func (j *Journal) Pending() int {
	j.batchMu.Lock()
	n := len(j.batch)
	j.batchMu.Unlock()
	return n + j.input.Len()
}

func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		rows := j.input.DrainTo(j.cfg.BatchSize)
		if len(rows) == 0 {
			select {
			case <-j.ctx.Done():
				return
			case <-time.After(pollInterval):
				continue
			}
		}
		j.add(rows)
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.writeCtx)
		}
	}
}

// add appends rows to the batch and flushes once it is full.
func (j *Journal) add(rows []Row) {
	j.batchMu.Lock()
	j.batch = append(j.batch, rows...)
	pending := len(j.batch)
	shouldFlush := pending >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if j.metrics != nil {
		j.metrics.JournalPending(pending)
	}
	if shouldFlush {
		j.flush(j.writeCtx)
	}
}

// transform converts a feed event into a row.
func (j *Journal) transform(ev dispatch.Event) (Row, error) {
	row := Row{
		Kind:       ev.Topic().Kind,
		ReceivedAt: j.now().UTC(),
	}

	var payload any
	switch e := ev.(type) {
	case dispatch.MatchCreated:
		row.MatchID = e.Match.ID
		row.EventID = serverEventID(row.Kind, e.Match.ID)
		payload = e.Match
	case dispatch.CommentaryPosted:
		row.MatchID = e.Commentary.MatchID
		row.EventID = serverEventID(row.Kind, e.Commentary.ID)
		payload = e.Commentary
	case dispatch.ScoreUpdated:
		row.MatchID = e.MatchID
		row.EventID = uuid.New()
		payload = scorePayload{HomeScore: e.HomeScore, AwayScore: e.AwayScore}
	default:
		return Row{}, fmt.Errorf("unsupported event %T", ev)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Row{}, fmt.Errorf("encode %s payload: %w", row.Kind, err)
	}
	row.Payload = data
	return row, nil
}

type scorePayload struct {
	HomeScore int `json:"homeScore"`
	AwayScore int `json:"awayScore"`
}

// serverEventID derives a stable id for an event identified by the server.
// A zero server id gets a random id instead.
func serverEventID(kind dispatch.Kind, id int64) uuid.UUID {
	if id == 0 {
		return uuid.New()
	}
	return uuid.NewSHA1(eventNamespace, []byte(string(kind)+":"+strconv.FormatInt(id, 10)))
}

// flush writes the current batch. A failed batch is logged, counted and
// dropped.
func (j *Journal) flush(ctx context.Context) error {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]Row, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()
	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("journal batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		if j.metrics != nil {
			j.metrics.BatchFailed(len(batch))
			j.metrics.JournalPending(j.Pending())
		}
		return err
	}
	elapsed := time.Since(start)

	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch) - conflicts)
	j.stats.Conflicts += int64(conflicts)
	j.stats.Flushes++
	j.batchMu.Unlock()

	if j.metrics != nil {
		j.metrics.BatchWritten(len(batch)-conflicts, elapsed)
		j.metrics.JournalPending(j.Pending())
	}

	j.logger.Debug("flushed feed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", elapsed,
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.EventID, string(r.Kind), r.MatchID, r.Payload, r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
