// Package delivery pushes events to every connection a user currently has.
//
// Delivery is best-effort and at-most-once: presence is read at send time,
// failed connections are logged and skipped, nothing is queued or retried.
package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/metrics"
	"github.com/jialangli/emotion-companion/internal/presence"
)

// EventCareMessage is the outbound push event type.
const EventCareMessage = "care_message"

// Event is the payload pushed to a connection.
type Event struct {
	Type      string          `json:"type"`
	Category  domain.Category `json:"category"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewCareMessage builds a push event stamped with at.
func NewCareMessage(cat domain.Category, content string, at time.Time) Event {
	return Event{Type: EventCareMessage, Category: cat, Content: content, Timestamp: at}
}

// Conn is a live connection handle owned by a transport.
type Conn interface {
	Push(ctx context.Context, ev Event) error
}

// Resolver turns a connection identity into its live handle.
type Resolver interface {
	Lookup(id presence.ConnID) (Conn, bool)
}

// Presence is the part of the presence registry the channel reads.
type Presence interface {
	Connections(userID string) []presence.ConnID
}

// Result summarises one Send call.
type Result struct {
	Attempted int
	Delivered int
	Failed    int
}

// Channel fans a payload out to a user's connections.
type Channel struct {
	presence Presence
	resolver Resolver
	log      *zap.Logger
	fanout   int
}

// NewChannel creates a delivery channel. fanout bounds concurrent pushes per Send.
func NewChannel(p Presence, r Resolver, log *zap.Logger, fanout int) *Channel {
	if fanout <= 0 {
		fanout = 8
	}
	return &Channel{presence: p, resolver: r, log: log, fanout: fanout}
}

// Send pushes ev to every connection registered for userID right now.
// An offline user is a silent no-op. Per-connection failures never surface as errors.
func (c *Channel) Send(ctx context.Context, userID string, ev Event) Result {
	conns := c.presence.Connections(userID)
	if len(conns) == 0 {
		c.log.Debug("user offline, dropping push",
			zap.String("user_id", userID), zap.String("category", ev.Category.String()))
		return Result{}
	}

	type outcome struct{ ok, failed bool }
	results := make([]outcome, len(conns))

	var g errgroup.Group
	g.SetLimit(c.fanout)
	for i, id := range conns {
		g.Go(func() error {
			conn, ok := c.resolver.Lookup(id)
			if !ok {
				// Disconnected between snapshot and send.
				return nil
			}
			if err := conn.Push(ctx, ev); err != nil {
				c.log.Warn("push to connection failed",
					zap.String("user_id", userID), zap.String("conn_id", string(id)), zap.Error(err))
				results[i] = outcome{failed: true}
				return nil
			}
			results[i] = outcome{ok: true}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{}
	for _, o := range results {
		switch {
		case o.ok:
			res.Attempted++
			res.Delivered++
		case o.failed:
			res.Attempted++
			res.Failed++
		}
	}
	metrics.AddConnectionDeliveries(res.Delivered, res.Failed)
	return res
}

// MultiResolver asks each resolver in order and returns the first hit.
type MultiResolver []Resolver

// Lookup implements Resolver.
func (m MultiResolver) Lookup(id presence.ConnID) (Conn, bool) {
	for _, r := range m {
		if r == nil {
			continue
		}
		if c, ok := r.Lookup(id); ok {
			return c, true
		}
	}
	return nil, false
}
