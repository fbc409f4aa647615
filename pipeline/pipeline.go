package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the writer does not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
	// ErrPipelineNotStarted is returned by Flush before Start.
	ErrPipelineNotStarted = errors.New("pipeline: not started")
)

// drainTimeout bounds how long Close waits for the writer goroutine.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

type item struct {
	record *models.ProductRecord
	ack    chan error
}

// Pipeline validates, normalizes and batches records on a single writer
// goroutine so rows land in the order they were processed.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	itemCh    chan item
	batchSize int

	done chan struct{}

	metrics metrics

	mu     sync.Mutex // guards closed/err/started
	closed bool
	err    error

	started      bool
	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	batchSize, buffer := 64, 512
	if cfg != nil {
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		if cfg.PipelineBufferSize > 0 {
			buffer = cfg.PipelineBufferSize
		}
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		itemCh:    make(chan item, buffer),
		batchSize: batchSize,
		done:      make(chan struct{}),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it twice is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true
	go p.run()
}

// Process enqueues records for writing.
func (p *Pipeline) Process(records ...*models.ProductRecord) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.enqueue(item{record: record}); err != nil {
			return err
		}
	}
	return nil
}

// Flush blocks until every record processed so far has been handed to the
// writer, and returns the first write error.
func (p *Pipeline) Flush() error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrPipelineNotStarted
	}

	ack := make(chan error, 1)
	if err := p.enqueue(item{ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-p.done:
		if err := p.Err(); err != nil {
			return err
		}
		return ErrPipelineClosed
	}
}

// Close drains pending records, closes the writer and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	if started {
		select {
		case <-p.done:
		case <-time.After(drainTimeout):
			return ErrPipelineCloseTimeout
		}
	}

	if err := p.writer.Close(); err != nil {
		p.setErr(fmt.Errorf("close writer: %w", err))
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_records"].(int64)
				validation := metrics["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_error_kinds", len(validation)),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) run() {
	defer close(p.done)

	batch := make([]*models.ProductRecord, 0, p.batchSize)
	var writeErr error
	flush := func() error {
		if len(batch) == 0 || writeErr != nil {
			return writeErr
		}
		if err := p.writer.Write(batch); err != nil {
			writeErr = fmt.Errorf("write batch: %w", err)
			p.setErr(writeErr)
			return writeErr
		}
		p.metrics.addWritten(len(batch))
		batch = batch[:0]
		return nil
	}

	for it := range p.itemCh {
		if it.ack != nil {
			it.ack <- flush()
			continue
		}
		prepared := p.prepare(it.record)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				slog.Error("pipeline write failed", slog.Any("error", err))
			}
		}
	}

	if err := flush(); err != nil {
		slog.Error("pipeline final write failed", slog.Any("error", err))
	}
}

func (p *Pipeline) prepare(record *models.ProductRecord) *models.ProductRecord {
	if err := parser.ValidateRecord(record); err != nil {
		p.metrics.addValidation("invalid_record")
		slog.Warn("dropping invalid record", slog.String("url", record.URL), slog.Any("error", err))
		return nil
	}
	parser.NormalizeRecord(record)
	if record.ScrapedAt.IsZero() {
		record.ScrapedAt = time.Now()
	}
	p.metrics.incrementProcessed()
	return record
}

func (p *Pipeline) enqueue(it item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.itemCh <- it:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	p.closed = true
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	written    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addWritten(n int) {
	m.mu.Lock()
	m.written += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"written_records":   m.written,
		"validation_errors": copyValidation,
	}
}
