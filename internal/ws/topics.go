package ws

import (
	"context"
	"strings"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/store"
)

// update is one pub/sub delivery, whichever backend carried it.
type update struct {
	Channel string
	Payload string
}

// feed subscribes to patterns on Redis or, in in-memory mode, on the local
// hub. It returns nil when neither is available.
func feed(ctx context.Context, cache *store.Cache, patterns []string) (<-chan update, func()) {
	out := make(chan update, 64)

	if pubsub := cache.Subscribe(ctx, patterns...); pubsub != nil {
		go func() {
			defer close(out)
			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- update{Channel: msg.Channel, Payload: msg.Payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, func() { _ = pubsub.Close() }
	}

	if local := cache.SubscribeInMemory(ctx, patterns...); local != nil {
		go func() {
			defer close(out)
			for msg := range local.Channel() {
				select {
				case out <- update{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, func() { _ = local.Close() }
	}

	return nil, func() {}
}

// TopicChannels maps client topic names onto pub/sub channel patterns.
// Unknown topics pass through when they already name an lcr: channel.
func TopicChannels(topics []string, loan string) []string {
	seen := make(map[string]struct{})
	var channels []string
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			channels = append(channels, c)
		}
	}

	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		switch strings.ToLower(topic) {
		case "":
		case "events":
			add(store.ChannelEventsPrefix + "*")
		case "peg":
			add(store.ChannelPeg)
		case "oracle", "feeds":
			add(store.ChannelOracle)
		default:
			if strings.HasPrefix(topic, "lcr:") {
				add(topic)
				continue
			}
			kind := events.Kind(strings.ToUpper(topic))
			if isKind(kind) {
				add(store.EventChannel(string(kind)))
			}
		}
	}

	if loan != "" {
		if _, err := address.Parse(loan); err == nil {
			add(store.ChannelLoanPrefix + loan)
		}
	}
	return channels
}

func isKind(k events.Kind) bool {
	switch k {
	case events.KindInitialize, events.KindOriginate, events.KindRefund, events.KindAddCollateral,
		events.KindClose, events.KindDeterminePenalty, events.KindHarvestPenalty,
		events.KindCreatePriceHistory, events.KindRecordPriceSample, events.KindPegChanged:
		return true
	}
	return false
}

func channelToEventType(channel string) string {
	switch {
	case channel == store.ChannelPeg:
		return "peg_update"
	case channel == store.ChannelOracle:
		return "oracle_update"
	case strings.HasPrefix(channel, store.ChannelEventsPrefix):
		return strings.ToLower(strings.TrimPrefix(channel, store.ChannelEventsPrefix)) + "_event"
	case strings.HasPrefix(channel, store.ChannelLoanPrefix):
		return "loan_update"
	default:
		return "update"
	}
}
