package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dhowlett/cardsmith/internal/cards"
	"github.com/dhowlett/cardsmith/internal/config"
	"github.com/dhowlett/cardsmith/internal/outline"
	"github.com/dhowlett/cardsmith/internal/store"
)

// TaskKind names a lifecycle stage a worker can run.
type TaskKind string

const (
	TaskChunk    TaskKind = "chunk"
	TaskGenerate TaskKind = "generate"
	TaskRefine   TaskKind = "refine"
)

// Task is a unit of work queued against a request.
type Task struct {
	RequestID string
	Kind      TaskKind
	// Hint carries chunking guidance for TaskChunk.
	Hint string
	// Instruction carries the refinement instruction for TaskRefine.
	Instruction string
}

// Orchestrator owns the worker pool that drives requests through their
// lifecycle stages.
type Orchestrator struct {
	store       *store.Store
	queue       chan Task
	partitioner outline.Partitioner
	generator   *cards.Generator
	refiner     *cards.Refiner
	log         *slog.Logger
	cfg         config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline around an existing store and model
// client wiring.
func NewOrchestrator(cfg config.Config, st *store.Store, partitioner outline.Partitioner, gen *cards.Generator, ref *cards.Refiner, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       st,
		queue:       make(chan Task, cfg.MaxQueueSize),
		partitioner: partitioner,
		generator:   gen,
		refiner:     ref,
		log:         log,
		cfg:         cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.store, o.partitioner, o.generator, o.refiner, o.log, o.cfg.MaxChars)
			for {
				select {
				case <-workerCtx.Done():
					return
				case task, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, task)
				}
			}
		}()
	}
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a task for processing. Returns an error when the queue is
// full so the caller can surface backpressure instead of blocking.
func (o *Orchestrator) Submit(task Task) error {
	select {
	case o.queue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
