package alert

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/audit"
)

// Notifier is an audit.Recorder that fans matching entries out to
// webhooks. Sends run in the background and never block the dispatcher.
// A nil *Notifier records nothing.
type Notifier struct {
	configs []Config
	client  *http.Client
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier. Returns nil if configs is empty.
func NewNotifier(configs []Config, logger *zap.Logger) *Notifier {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		configs: configs,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Record sends e to every webhook subscribed to its status or type.
func (n *Notifier) Record(e audit.Entry) error {
	if n == nil {
		return nil
	}
	var event *Event
	for _, cfg := range n.configs {
		if !matches(cfg.Events, e) {
			continue
		}
		if event == nil {
			ev := EventFromEntry(e)
			event = &ev
		}
		n.wg.Add(1)
		go func(cfg Config, ev Event) {
			defer n.wg.Done()
			if err := Send(n.ctx, n.client, cfg, ev); err != nil {
				n.logger.Warn("alert webhook failed",
					zap.String("url", cfg.URL),
					zap.String("request_id", ev.RequestID),
					zap.Error(err))
			}
		}(cfg, *event)
	}
	return nil
}

// Wait blocks until in-flight sends finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Close waits for in-flight sends and releases the notifier.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.wg.Wait()
	n.cancel()
}

func matches(events []string, e audit.Entry) bool {
	return slices.Contains(events, e.Status) || (e.Type == audit.TypeUndo && slices.Contains(events, EventUndo))
}
