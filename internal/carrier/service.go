// Package carrier turns carrier scan messages into ledger appends.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/events"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Scan is one carrier status update, already validated.
type Scan struct {
	EventID     string
	OrderID     string
	EventType   tracking.EventType
	Description string
	Location    string
	DeliveredTo string
	ScannedAt   time.Time
}

type Forwarder interface {
	Forward(ctx context.Context, s Scan) error
}

type Dedup interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	API   Forwarder
	Dedup Dedup // optional
	Log   *zap.Logger
}

// HandleScan is installed as the consumer handler. A nil return commits the
// offset: duplicates, malformed messages and scans the API rejects are
// dropped after logging.
func (s *Service) HandleScan(ctx context.Context, m kafkago.Message) error {
	log := logger.OrNop(s.Log).With(zap.Int64("offset", m.Offset))

	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn("malformed envelope", zap.Error(err))
		return nil
	}
	if env.EventType != events.EventCarrierScanReceived {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID))

	scan, err := toScan(env)
	if err != nil {
		log.Warn("invalid scan", zap.Error(err))
		return nil
	}

	if s.Dedup != nil && env.EventID != "" {
		first, err := s.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Debug("duplicate scan")
			return nil
		}
	}

	if err := s.API.Forward(ctx, scan); err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) {
			log.Warn("scan rejected", zap.String("order_id", scan.OrderID), zap.Error(err))
			return nil
		}
		if s.Dedup != nil && env.EventID != "" {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				log.Warn("dedup forget", zap.Error(ferr))
			}
		}
		return err
	}
	log.Info("scan recorded",
		zap.String("order_id", scan.OrderID),
		zap.String("event_type", string(scan.EventType)))
	return nil
}

func toScan(env events.Envelope) (Scan, error) {
	p, err := events.Decode[events.CarrierScanPayload](env)
	if err != nil {
		return Scan{}, err
	}
	t := tracking.EventType(strings.ToUpper(strings.TrimSpace(p.EventType)))
	if !t.Valid() {
		return Scan{}, errors.New("unknown event type " + p.EventType)
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return Scan{}, errors.New("order_id is required")
	}
	return Scan{
		EventID:     env.EventID,
		OrderID:     strings.TrimSpace(p.OrderID),
		EventType:   t,
		Description: p.Description,
		Location:    p.Location,
		DeliveredTo: p.DeliveredTo,
		ScannedAt:   env.OccurredAt,
	}, nil
}
