package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TapeRefresher is the slice of the ticker tape service the poller drives.
type TapeRefresher interface {
	Refresh(ctx context.Context) error
}

// TapePoller keeps the cached ticker tape warm so reads never pay the
// provider round trip. Refresh itself coalesces overlapping runs, so a
// slow provider just means a skipped tick.
type TapePoller struct {
	tracer   trace.Tracer
	tape     TapeRefresher
	interval time.Duration
}

func NewTapePoller(tracer trace.Tracer, tape TapeRefresher, interval time.Duration) *TapePoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TapePoller{tracer: tracer, tape: tape, interval: interval}
}

// Start refreshes once immediately, then on every tick. Blocks until ctx
// is cancelled.
func (p *TapePoller) Start(ctx context.Context) {
	if p.tape == nil {
		log.Println("Tape poller disabled: no tape service")
		<-ctx.Done()
		return
	}

	log.Println("Tape poller starting...")
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Tape poller stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *TapePoller) refresh(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "job.tape-refresh")
	defer span.End()

	if err := p.tape.Refresh(ctx); err != nil {
		log.Printf("ticker tape refresh error: %v", err)
	}
}
