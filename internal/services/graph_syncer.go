package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

const (
	defaultGraphBatchSize = 100
	graphQueueSize        = 1000
	graphWriteTimeout     = 30 * time.Second
)

// GraphSyncer batches interactions into the co-interaction graph. A batch is
// written when it fills up, on every tick, and once more on Stop.
type GraphSyncer struct {
	writer    GraphWriter
	logger    *logrus.Logger
	batchSize int
	interval  time.Duration

	queue    chan models.Interaction
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewGraphSyncer(writer GraphWriter, interval time.Duration, batchSize int, logger *logrus.Logger) *GraphSyncer {
	if batchSize <= 0 {
		batchSize = defaultGraphBatchSize
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &GraphSyncer{
		writer:    writer,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		queue:     make(chan models.Interaction, graphQueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Enqueue never blocks; when the queue is full the interaction is dropped.
func (s *GraphSyncer) Enqueue(interaction models.Interaction) {
	if interaction.ItemID == nil {
		return
	}
	select {
	case s.queue <- interaction:
	default:
		s.logger.WithField("user_id", interaction.UserID).Warn("Graph sync queue full")
	}
}

func (s *GraphSyncer) Start() {
	s.wg.Add(1)
	go s.batchWorker()
}

func (s *GraphSyncer) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *GraphSyncer) batchWorker() {
	defer s.wg.Done()

	var batch []models.Interaction
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case interaction := <-s.queue:
			batch = append(batch, interaction)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = nil
			}

		case <-s.stopChan:
			// Drain whatever is still queued.
			for {
				select {
				case interaction := <-s.queue:
					batch = append(batch, interaction)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *GraphSyncer) flush(batch []models.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), graphWriteTimeout)
	defer cancel()

	if err := s.writer.MergeInteractions(ctx, batch); err != nil {
		s.logger.WithError(err).WithField("batch_size", len(batch)).Error("Failed to sync interactions to graph")
		return
	}
	s.logger.WithField("batch_size", len(batch)).Debug("Synced interactions to graph")
}
