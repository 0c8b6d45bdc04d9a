package rabbit

import (
	"context"
	"errors"
	"sync"
)

// QueueDepth is a point-in-time view of a queue, from a passive declare.
type QueueDepth struct {
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
	Error     string `json:"error,omitempty"`
}

// Depths probes each queue on its own channel, because a failed passive
// declare closes the channel it ran on. A missing queue yields an entry
// with Error set instead of failing the whole probe.
func Depths(ctx context.Context, opener ChannelOpener, queues ...string) map[string]QueueDepth {
	out := make(map[string]QueueDepth, len(queues))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range queues {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			d := probe(ctx, opener, name)
			mu.Lock()
			out[name] = d
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

func probe(ctx context.Context, opener ChannelOpener, name string) QueueDepth {
	if err := ctx.Err(); err != nil {
		return QueueDepth{Error: err.Error()}
	}
	ch, err := opener.OpenChannel()
	if err != nil {
		return QueueDepth{Error: err.Error()}
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclarePassive(name, false, false, false, false, nil)
	if err != nil {
		return QueueDepth{Error: TranslateError(err).Error()}
	}
	return QueueDepth{Messages: q.Messages, Consumers: q.Consumers}
}

// QueueExists runs a passive declare on a throwaway channel.
func QueueExists(opener ChannelOpener, name string) (bool, error) {
	ch, err := opener.OpenChannel()
	if err != nil {
		return false, err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclarePassive(name, false, false, false, false, nil); err != nil {
		if errors.Is(TranslateError(err), ErrNotFound) {
			return false, nil
		}
		return false, TranslateError(err)
	}
	return true, nil
}
