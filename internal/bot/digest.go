package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"
)

const digestNewsLimit = 5

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// DigestDispatcher sends the daily market digest to subscribed chats:
// the ticker tape plus the top broad-market headlines.
type DigestDispatcher struct {
	sender messageSender
	stocks StockQuerier
	tape   TapeReader

	mu          sync.RWMutex
	subscribers map[int64]struct{}
}

func NewDigestDispatcher(sender messageSender, stocks StockQuerier, tape TapeReader) *DigestDispatcher {
	return &DigestDispatcher{
		sender:      sender,
		stocks:      stocks,
		tape:        tape,
		subscribers: make(map[int64]struct{}),
	}
}

func (d *DigestDispatcher) Subscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; exists {
		return false
	}
	d.subscribers[chatID] = struct{}{}
	return true
}

func (d *DigestDispatcher) Unsubscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; !exists {
		return false
	}
	delete(d.subscribers, chatID)
	return true
}

func (d *DigestDispatcher) IsSubscribed(chatID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.subscribers[chatID]
	return exists
}

func (d *DigestDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// Run sends the digest once a day at the given UTC hour. Blocks until ctx
// is cancelled.
func (d *DigestDispatcher) Run(ctx context.Context, hour int) {
	if d == nil {
		<-ctx.Done()
		return
	}
	for {
		wait := untilHour(time.Now().UTC(), hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := d.SendDigest(ctx); err != nil {
				log.Printf("digest send error: %v", err)
			}
		}
	}
}

// SendDigest composes and broadcasts one digest to every subscriber.
func (d *DigestDispatcher) SendDigest(ctx context.Context) error {
	if d == nil || d.sender == nil {
		return nil
	}
	chatIDs := d.snapshotSubscribers()
	if len(chatIDs) == 0 {
		return nil
	}

	msg := d.compose(ctx)
	var failures []string
	for _, chatID := range chatIDs {
		if _, err := d.sender.Send(&tele.Chat{ID: chatID}, msg); err != nil {
			failures = append(failures, fmt.Sprintf("chat %d: %v", chatID, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed sending %d digests: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (d *DigestDispatcher) compose(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("Daily market digest (" + time.Now().UTC().Format("Jan 2") + ")\n")

	if d.tape != nil {
		if entries, _ := d.tape.Read(ctx, 0, false); len(entries) > 0 {
			sb.WriteString("\n" + formatTape(entries) + "\n")
		}
	}
	if d.stocks != nil {
		if items, _, _, err := d.stocks.GetNewsData(ctx, "SPY", digestNewsLimit, false); err == nil && len(items) > 0 {
			sb.WriteString("\nTop headlines:\n")
			for _, item := range items {
				fmt.Fprintf(&sb, "- %s (%s)\n", item.Title, item.Source)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (d *DigestDispatcher) snapshotSubscribers() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chatIDs := make([]int64, 0, len(d.subscribers))
	for chatID := range d.subscribers {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })
	return chatIDs
}

func parseDigestMode(args []string) (string, error) {
	if len(args) == 0 {
		return "status", nil
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "on":
		return "on", nil
	case "off":
		return "off", nil
	case "status":
		return "status", nil
	default:
		return "", fmt.Errorf("invalid mode")
	}
}

// untilHour returns the duration from now to the next occurrence of the
// given UTC hour, never zero so back-to-back sends cannot happen.
func untilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
