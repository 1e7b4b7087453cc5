package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// worker - один периодический цикл с изолированным backoff-состоянием
type worker struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error

	errStreak int
}

// Supervisor управляет жизненным циклом фоновых воркеров:
// запускает каждый в своей горутине со своим тикером, изолирует
// ошибки и backoff между воркерами, останавливает все с ограниченным
// ожиданием при завершении процесса.
//
// Backoff: после errorThreshold подряд неудачных циклов воркер
// отдыхает backoff перед возвратом к обычному интервалу -
// чтобы не долбить деградировавшую зависимость.
type Supervisor struct {
	workers []*worker

	errorThreshold int
	backoff        time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewSupervisor создаёт супервизор воркеров
func NewSupervisor(errorThreshold int, backoff time.Duration, log *zap.Logger) *Supervisor {
	return &Supervisor{
		errorThreshold: errorThreshold,
		backoff:        backoff,
		log:            log,
	}
}

// Register добавляет периодический воркер. Вызывается до Start.
func (s *Supervisor) Register(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.workers = append(s.workers, &worker{name: name, interval: interval, fn: fn})
}

// Start запускает все воркеры
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.run(ctx, w)
	}
	s.log.Info("workers started", zap.Int("count", len(s.workers)))
}

// Stop останавливает воркеры: новые циклы не начинаются,
// идущий цикл отменяется кооперативно; ожидание ограничено timeout
func (s *Supervisor) Stop(timeout time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all workers stopped")
	case <-time.After(timeout):
		s.log.Warn("worker shutdown timed out", zap.Duration("timeout", timeout))
	}
}

// run - цикл одного воркера
func (s *Supervisor) run(ctx context.Context, w *worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, w)

			if w.errStreak >= s.errorThreshold {
				s.log.Warn("worker backing off after repeated errors",
					zap.String("worker", w.name),
					zap.Int("errors", w.errStreak),
					zap.Duration("backoff", s.backoff))
				WorkerBackoffs.WithLabelValues(w.name).Inc()

				select {
				case <-ctx.Done():
					return
				case <-time.After(s.backoff):
				}
				w.errStreak = 0
			}
		}
	}
}

// runCycle выполняет один цикл воркера с учётом его backoff-состояния
func (s *Supervisor) runCycle(ctx context.Context, w *worker) {
	start := time.Now()
	err := w.fn(ctx)
	WorkerCycleDuration.WithLabelValues(w.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.errStreak++
		WorkerCycleErrors.WithLabelValues(w.name).Inc()
		s.log.Error("worker cycle failed",
			zap.String("worker", w.name),
			zap.Int("error_streak", w.errStreak),
			zap.Error(err))
		return
	}
	w.errStreak = 0
}
