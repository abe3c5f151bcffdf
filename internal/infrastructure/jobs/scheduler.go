// Package jobs tareas periódicas del servicio (reporte automático de facturas simplificadas).
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Task trabajo periódico. El contexto se cancela al apagar el scheduler.
type Task func(ctx context.Context) error

// Scheduler envoltorio de gocron con un job por nombre y ejecución en modo singleton.
type Scheduler struct {
	scheduler gocron.Scheduler
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]gocron.Job
}

// NewScheduler crea el scheduler sin iniciarlo.
func NewScheduler(log zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("jobs: crear scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: s, log: log, ctx: ctx, cancel: cancel, jobs: map[string]gocron.Job{}}, nil
}

// Every registra task cada interval. Si una corrida se atrasa la siguiente se reprograma
// en lugar de solaparse. immediate ejecuta la primera corrida al iniciar.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("jobs: intervalo inválido %s para %s", interval, name)
	}
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("jobs: %s ya está registrado", name)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.run(name, task) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("jobs: registrar %s: %w", name, err)
	}
	s.jobs[name] = job
	s.log.Info().Str("job", name).Dur("every", interval).Msg("job registrado")
	return nil
}

// Names nombres de los jobs registrados.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Start inicia el scheduler.
func (s *Scheduler) Start() {
	s.log.Info().Int("jobs", len(s.Names())).Msg("scheduler iniciado")
	s.scheduler.Start()
}

// Shutdown cancela las corridas en curso y espera a que terminen.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("jobs: detener scheduler: %w", err)
	}
	s.log.Info().Msg("scheduler detenido")
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	start := time.Now()
	log := s.log.With().Str("job", name).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job abortado")
		}
	}()
	if err := task(s.ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job fallido")
		return
	}
	log.Debug().Dur("took", time.Since(start)).Msg("job completado")
}
